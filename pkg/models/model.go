package models

import (
	"strings"
	"sync"

	"github.com/lucid-vigil/markov-sentinel/pkg/markov"
)

// Model is one trained behaviour signature. Everything except the recorded
// best match length is fixed once the model is loaded.
type Model struct {
	ID              int
	Label           Label
	Threshold       float64
	SelfProbability float64

	training []string
	chain    *markov.Chain

	mu              sync.Mutex
	bestMatchLength int
}

func newModel(id int, snap *Snapshot) (*Model, error) {
	label, err := ParseLabel(snap.Label)
	if err != nil {
		return nil, err
	}
	return &Model{
		ID:              id,
		Label:           label,
		Threshold:       snap.Threshold,
		SelfProbability: snap.SelfProbability,
		training:        markov.Split(snap.State),
		chain: &markov.Chain{
			Initial:     snap.Initial,
			Transitions: snap.Transitions,
		},
		bestMatchLength: -1,
	}, nil
}

// Protocol is the lower-cased protocol taken from the label.
func (m *Model) Protocol() string {
	return m.Label.Protocol
}

// MatchesProtocol compares protocols case-insensitively.
func (m *Model) MatchesProtocol(protocol string) bool {
	return strings.EqualFold(m.Label.Protocol, protocol)
}

// Matched is the flag reported when this model wins a classification: false
// for benign models, which never raise an alert.
func (m *Model) Matched() bool {
	return !m.Label.Benign()
}

// Training returns a copy of the symbol sequence the model was trained on.
func (m *Model) Training() []string {
	out := make([]string, len(m.training))
	copy(out, m.training)
	return out
}

// TrainingLen is the length of the training sequence.
func (m *Model) TrainingLen() int {
	return len(m.training)
}

// Chain returns a copy of the chain persisted with the model.
func (m *Model) Chain() *markov.Chain {
	return m.chain.Clone()
}

// Retrain rebuilds a chain from the first n symbols of the training sequence
// (all of them when the sequence is shorter). The chain is call-local; the
// model itself is not modified.
func (m *Model) Retrain(n int) ([]string, *markov.Chain) {
	if n < 0 {
		n = 0
	}
	if n > len(m.training) {
		n = len(m.training)
	}
	prefix := m.training[:n:n]
	return prefix, markov.BuildChain(prefix)
}

// SetBestMatchLength records the length of the sequence this model last won on.
func (m *Model) SetBestMatchLength(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bestMatchLength = n
}

// BestMatchLength returns the last recorded match length, or -1.
func (m *Model) BestMatchLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bestMatchLength
}
