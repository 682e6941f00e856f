// Package classifier matches live state sequences against the model library.
//
// For every model of the observation's protocol, in library order, the model's
// own training sequence is cut to the length of the observation and a chain is
// rebuilt from that prefix. Both the prefix and the observation are scored
// under the rebuilt chain and compared with Distance. The first model whose
// distance falls within [1, threshold] wins and the scan stops there.
package classifier

import (
	"math"
	"strings"
	"time"

	"github.com/lucid-vigil/markov-sentinel/pkg/markov"
	"github.com/lucid-vigil/markov-sentinel/pkg/metrics"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/rs/zerolog"
)

// MinSequenceLength is the shortest sequence Classify will consider.
const MinSequenceLength = 4

// Verdict is the outcome of one classification.
//
// Found reports whether any model was selected. Matched is the selected
// model's alert flag, so a verdict can be Found but not Matched when the model
// describes benign traffic.
type Verdict struct {
	SequenceID  string  `json:"tuple_id"`
	Protocol    string  `json:"protocol"`
	Length      int     `json:"length"`
	TooShort    bool    `json:"too_short,omitempty"`
	Found       bool    `json:"found"`
	Matched     bool    `json:"matched"`
	Label       string  `json:"label,omitempty"`
	MatchLength int     `json:"match_length,omitempty"`
	ModelID     int     `json:"model_id,omitempty"`
	Distance    float64 `json:"distance,omitempty"`
}

// Result names the verdict outcome for metrics and logs.
func (v Verdict) Result() string {
	switch {
	case v.TooShort:
		return metrics.ResultTooShort
	case !v.Found:
		return metrics.ResultNone
	case v.Matched:
		return metrics.ResultMalicious
	default:
		return metrics.ResultBenign
	}
}

// Classifier scores sequences against a Library. It is safe for concurrent use:
// chains are rebuilt per call and models are only written under their own lock.
type Classifier struct {
	library *models.Library
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a classifier over library. m may be nil.
func New(library *models.Library, m *metrics.Metrics, logger zerolog.Logger) *Classifier {
	return &Classifier{
		library: library,
		metrics: m,
		logger:  logger.With().Str("component", "classifier").Logger(),
	}
}

// ClassifyState splits a state string into symbols and classifies it.
func (c *Classifier) ClassifyState(protocol, state, sequenceID string) Verdict {
	return c.Classify(protocol, markov.Split(state), sequenceID)
}

// Classify decides whether symbols resemble one of the library's models.
func (c *Classifier) Classify(protocol string, symbols []string, sequenceID string) Verdict {
	start := time.Now()
	v := c.classify(protocol, symbols, sequenceID)
	c.metrics.VerdictRecorded(v.Result(), time.Since(start))
	return v
}

func (c *Classifier) classify(protocol string, symbols []string, sequenceID string) Verdict {
	v := Verdict{
		SequenceID: sequenceID,
		Protocol:   protocol,
		Length:     len(symbols),
	}
	if len(symbols) < MinSequenceLength {
		v.TooShort = true
		c.logger.Debug().Str("tuple_id", sequenceID).Int("length", len(symbols)).Msg("State too short to classify")
		return v
	}

	best := math.Inf(1)
	for _, m := range c.library.Models() {
		if !m.MatchesProtocol(protocol) {
			continue
		}

		prefix, chain := m.Retrain(len(symbols))
		trainScore := chain.Score(prefix)
		testScore := chain.Score(symbols)
		distance, ok := Distance(trainScore, testScore)

		c.logger.Debug().
			Int("model_id", m.ID).
			Str("label", m.Label.Raw).
			Float64("threshold", m.Threshold).
			Str("train_state", strings.Join(prefix, "")).
			Str("tuple_id", sequenceID).
			Str("test_state", strings.Join(symbols, "")).
			Float64("train_score", trainScore).
			Float64("test_score", testScore).
			Bool("has_distance", ok).
			Float64("distance", distance).
			Msg("Scored model")

		if !ok || distance < 1 || distance > m.Threshold || distance >= best {
			continue
		}

		best = distance
		m.SetBestMatchLength(len(symbols))
		v.Found = true
		v.Matched = m.Matched()
		v.Label = m.Label.Raw
		v.ModelID = m.ID
		v.MatchLength = len(symbols)
		v.Distance = distance
		// First acceptable model wins; later models are not consulted.
		break
	}
	return v
}

// Distance compares the score of a model's training prefix with the score of
// the tested sequence: the smaller score divided by the larger. Identical
// scores are at distance 1. ok is false when the larger score is zero and the
// scores differ, which never counts as a match.
func Distance(trainScore, testScore float64) (distance float64, ok bool) {
	if trainScore == testScore {
		return 1, true
	}
	lo, hi := math.Min(trainScore, testScore), math.Max(trainScore, testScore)
	if hi == 0 {
		return 0, false
	}
	return lo / hi, true
}
