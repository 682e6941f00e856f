package models

import (
	"errors"
	"fmt"
	"io"
	"math"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/markov"
	"gopkg.in/yaml.v3"
)

// Snapshot is the persisted form of a model. On disk it is a stream of six
// YAML documents, in this order: initial distribution, transition matrix,
// training state string, self probability, label, threshold.
type Snapshot struct {
	Initial         map[string]float64
	Transitions     map[string]map[string]float64
	State           string
	SelfProbability float64
	Label           string
	Threshold       float64
}

type snapshotField struct {
	name string
	dst  interface{}
}

func (s *Snapshot) fields() []snapshotField {
	return []snapshotField{
		{"initial", &s.Initial},
		{"transitions", &s.Transitions},
		{"state", &s.State},
		{"self_probability", &s.SelfProbability},
		{"label", &s.Label},
		{"threshold", &s.Threshold},
	}
}

// ReadSnapshot decodes one snapshot from r. name is only used in errors.
func ReadSnapshot(r io.Reader, name string) (*Snapshot, error) {
	snap := &Snapshot{}
	dec := yaml.NewDecoder(r)
	for _, f := range snap.fields() {
		if err := dec.Decode(f.dst); err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: document missing", serrors.ErrInvalidSnapshot)
			}
			return nil, serrors.NewSnapshotError(name, f.name, err)
		}
	}

	if snap.Initial == nil {
		snap.Initial = make(map[string]float64)
	}
	if snap.Transitions == nil {
		snap.Transitions = make(map[string]map[string]float64)
	}
	if math.IsNaN(snap.Threshold) {
		return nil, serrors.NewSnapshotError(name, "threshold",
			fmt.Errorf("%w: threshold is NaN", serrors.ErrInvalidSnapshot))
	}
	if _, err := ParseLabel(snap.Label); err != nil {
		return nil, serrors.NewSnapshotError(name, "label", err)
	}
	return snap, nil
}

// WriteSnapshot encodes snap to w in the six-document layout.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	enc := yaml.NewEncoder(w)
	for _, f := range snap.fields() {
		if err := enc.Encode(f.dst); err != nil {
			return fmt.Errorf("encode %s: %w", f.name, err)
		}
	}
	return enc.Close()
}

// SnapshotFromTraining trains a chain on state and packages it with its label
// and threshold. The self probability is the score of state under its own chain.
func SnapshotFromTraining(state, label string, threshold float64) (*Snapshot, error) {
	if _, err := ParseLabel(label); err != nil {
		return nil, err
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite", serrors.ErrInvalidSnapshot)
	}
	symbols := markov.Split(state)
	chain := markov.BuildChain(symbols)
	return &Snapshot{
		Initial:         chain.Initial,
		Transitions:     chain.Transitions,
		State:           state,
		SelfProbability: chain.Score(symbols),
		Label:           label,
		Threshold:       threshold,
	}, nil
}
