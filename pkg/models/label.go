package models

import (
	"fmt"
	"strings"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
)

// Class is the behaviour class a model label denotes.
type Class int

const (
	Malicious Class = iota
	Benign
)

func (c Class) String() string {
	if c == Benign {
		return "benign"
	}
	return "malicious"
}

// Label is a parsed model label. The raw form is dash separated, e.g.
// "From-Botnet-tcp-CC-HTTP", and its third field names the protocol.
type Label struct {
	Raw      string
	Protocol string
	Class    Class
}

// ParseLabel derives the protocol and behaviour class from a raw label.
// Any label containing "normal" (any case) is benign.
func ParseLabel(raw string) (Label, error) {
	fields := strings.Split(raw, "-")
	if len(fields) < 3 {
		return Label{}, fmt.Errorf("%w: %q has %d dash-separated fields, need at least 3",
			serrors.ErrMalformedLabel, raw, len(fields))
	}
	protocol := strings.ToLower(strings.TrimSpace(fields[2]))
	if protocol == "" {
		return Label{}, fmt.Errorf("%w: %q has an empty protocol field", serrors.ErrMalformedLabel, raw)
	}

	class := Malicious
	if strings.Contains(strings.ToLower(raw), "normal") {
		class = Benign
	}
	return Label{Raw: raw, Protocol: protocol, Class: class}, nil
}

// Benign reports whether the label denotes normal traffic.
func (l Label) Benign() bool {
	return l.Class == Benign
}

func (l Label) String() string {
	return l.Raw
}
