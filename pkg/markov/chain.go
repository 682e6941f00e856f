// Package markov implements the first-order Markov chains used to score
// connection state strings: chain construction by maximum-likelihood counting
// and log-likelihood scoring with a flat penalty for unseen transitions.
package markov

import (
	"math"
)

// Penalty is the log-probability charged for every transition the chain never
// observed, and for a first symbol outside a learned initial distribution.
// It approximates ln(0.01); persisted thresholds were tuned against this value.
const Penalty = -4.6

// Chain is a first-order Markov chain. Probabilities are stored in linear
// space and converted to logs on lookup.
type Chain struct {
	// Initial maps a symbol to the probability of it opening a sequence.
	Initial map[string]float64 `yaml:"initial"`
	// Transitions maps from -> to -> P(to | from).
	Transitions map[string]map[string]float64 `yaml:"transitions"`
}

// Split breaks a state string into one symbol per character.
func Split(state string) []string {
	symbols := make([]string, 0, len(state))
	for _, r := range state {
		symbols = append(symbols, string(r))
	}
	return symbols
}

// BuildChain derives the initial distribution and the transition matrix from a
// symbol sequence. The initial distribution is the position-0 frequency and
// every transition probability is count(from->to) / count(from->*).
func BuildChain(symbols []string) *Chain {
	c := &Chain{
		Initial:     make(map[string]float64),
		Transitions: make(map[string]map[string]float64),
	}
	if len(symbols) == 0 {
		return c
	}
	c.Initial[symbols[0]] = 1.0

	counts := make(map[string]map[string]int)
	totals := make(map[string]int)
	for i := 0; i+1 < len(symbols); i++ {
		from, to := symbols[i], symbols[i+1]
		row, ok := counts[from]
		if !ok {
			row = make(map[string]int)
			counts[from] = row
		}
		row[to]++
		totals[from]++
	}

	for from, row := range counts {
		total := float64(totals[from])
		probs := make(map[string]float64, len(row))
		for to, n := range row {
			probs[to] = float64(n) / total
		}
		c.Transitions[from] = probs
	}
	return c
}

// Transition returns the log-probability of moving from one symbol to the next.
// observed is false when the pair was never seen while building the chain.
func (c *Chain) Transition(from, to string) (logProb float64, observed bool) {
	if c == nil {
		return 0, false
	}
	row, ok := c.Transitions[from]
	if !ok {
		return 0, false
	}
	p, ok := row[to]
	if !ok || p <= 0 || math.IsNaN(p) {
		return 0, false
	}
	return math.Log(p), true
}

// InitialTerm is the contribution of the first symbol to a sequence score.
//
//   - empty sequence: Penalty
//   - nothing learned yet (empty distribution): 0
//   - symbol outside the learned distribution: Penalty
//   - zero or invalid stored probability: 0
func (c *Chain) InitialTerm(symbols []string) float64 {
	if len(symbols) == 0 {
		return Penalty
	}
	if c == nil || len(c.Initial) == 0 {
		return 0
	}
	p, ok := c.Initial[symbols[0]]
	if !ok {
		return Penalty
	}
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	return math.Log(p)
}

// Score returns the log-likelihood of symbols under the chain. Unobserved
// transitions add Penalty instead of excluding the sequence.
func (c *Chain) Score(symbols []string) float64 {
	score := c.InitialTerm(symbols)
	for i := 0; i+1 < len(symbols); i++ {
		if lp, ok := c.Transition(symbols[i], symbols[i+1]); ok {
			score += lp
			continue
		}
		score += Penalty
	}
	return score
}

// Len reports how many distinct transitions the chain has learned.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, row := range c.Transitions {
		n += len(row)
	}
	return n
}

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	out := &Chain{
		Initial:     make(map[string]float64, len(c.Initial)),
		Transitions: make(map[string]map[string]float64, len(c.Transitions)),
	}
	for k, v := range c.Initial {
		out.Initial[k] = v
	}
	for from, row := range c.Transitions {
		cp := make(map[string]float64, len(row))
		for to, p := range row {
			cp[to] = p
		}
		out.Transitions[from] = cp
	}
	return out
}
