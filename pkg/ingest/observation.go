// Package ingest is the boundary with the flow-feature producer: it decodes
// the (tuple id, protocol, state string) observations the classifier consumes.
package ingest

import (
	"strings"

	"github.com/lucid-vigil/markov-sentinel/pkg/markov"
)

// Observation is one tick of a tracked connection.
type Observation struct {
	SequenceID string `json:"tuple_id"`
	Protocol   string `json:"protocol"`
	State      string `json:"state"`
}

// Symbols splits the state string into classifier symbols.
func (o Observation) Symbols() []string {
	return markov.Split(o.State)
}

// Normalize trims surrounding whitespace from the identifying fields. State
// is kept as sent: every character in it is a symbol.
func (o Observation) Normalize() Observation {
	o.SequenceID = strings.TrimSpace(o.SequenceID)
	o.Protocol = strings.TrimSpace(o.Protocol)
	return o
}
