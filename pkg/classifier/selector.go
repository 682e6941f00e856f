package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/lucid-vigil/markov-sentinel/pkg/ingest"
)

// SelectorEnv is what a selector expression can see of an observation.
type SelectorEnv struct {
	TupleID  string `expr:"tuple_id"`
	Protocol string `expr:"protocol"`
	State    string `expr:"state"`
	Length   int    `expr:"length"`
	Periodic bool   `expr:"periodic"`
}

// Selector decides which observations are worth classifying, e.g.
//
//	protocol == "tcp" && length >= 8 && !periodic
type Selector struct {
	source  string
	program *vm.Program
}

// NewSelector compiles expression. An empty expression selects everything.
func NewSelector(expression string) (*Selector, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &Selector{}, nil
	}
	program, err := expr.Compile(expression, expr.Env(SelectorEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile selector '%s': %w", expression, err)
	}
	return &Selector{source: expression, program: program}, nil
}

// String returns the expression the selector was compiled from.
func (s *Selector) String() string {
	return s.source
}

// Match evaluates the selector for obs. Evaluation errors do not select.
func (s *Selector) Match(obs ingest.Observation) bool {
	if s == nil || s.program == nil {
		return true
	}
	env := SelectorEnv{
		TupleID:  obs.SequenceID,
		Protocol: strings.ToLower(obs.Protocol),
		State:    obs.State,
		Length:   utf8.RuneCountInString(obs.State),
		Periodic: IsPeriodic(obs.State),
	}
	result, err := expr.Run(s.program, env)
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}
