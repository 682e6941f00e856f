package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/lucid-vigil/markov-sentinel/pkg/metrics"
	"github.com/rs/zerolog"
)

// maxLineSize bounds one JSON line; state strings of long-lived connections
// grow well past bufio's default 64KiB.
const maxLineSize = 4 << 20

// Validator rejects observations that must not reach the classifier.
type Validator interface {
	Validate(obs Observation) error
}

// SelectFunc reports whether an observation should be classified.
type SelectFunc func(obs Observation) bool

// ReaderStats counts what the reader did with each line.
type ReaderStats struct {
	Lines     uint64 `json:"lines"`
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Invalid   uint64 `json:"invalid"`
	Filtered  uint64 `json:"filtered"`
}

// Reader decodes a JSON-lines stream of observations, one object per line:
//
//	{"tuple_id": "10.0.0.1-10.0.0.2-80-tcp", "protocol": "tcp", "state": "88*y*y*h*h*"}
//
// Malformed lines belong to the producer and are logged and skipped.
type Reader struct {
	logger    zerolog.Logger
	validator Validator
	selectFn  SelectFunc
	metrics   *metrics.Metrics

	lines, accepted, malformed, invalid, filtered atomic.Uint64
}

// NewReader creates a reader that accepts every well-formed observation.
func NewReader(logger zerolog.Logger) *Reader {
	return &Reader{
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

func (r *Reader) WithValidator(v Validator) *Reader {
	r.validator = v
	return r
}

func (r *Reader) WithSelector(fn SelectFunc) *Reader {
	r.selectFn = fn
	return r
}

func (r *Reader) WithMetrics(m *metrics.Metrics) *Reader {
	r.metrics = m
	return r
}

// Run reads src until EOF or cancellation, sending accepted observations to
// out. out is closed when Run returns.
func (r *Reader) Run(ctx context.Context, src io.Reader, out chan<- Observation) error {
	defer close(out)

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.lines.Add(1)

		obs, ok := r.decode(line)
		if !ok {
			continue
		}

		select {
		case out <- obs:
			r.accepted.Add(1)
			r.metrics.ObservationAccepted(obs.Protocol)
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read observations: %w", err)
	}
	r.logger.Info().Uint64("lines", r.lines.Load()).Uint64("accepted", r.accepted.Load()).Msg("Observation stream ended")
	return nil
}

func (r *Reader) decode(line []byte) (Observation, bool) {
	var obs Observation
	if err := json.Unmarshal(line, &obs); err != nil {
		r.malformed.Add(1)
		r.metrics.ObservationRejected("malformed")
		r.logger.Warn().Err(err).Msg("Skipping malformed observation")
		return Observation{}, false
	}
	obs = obs.Normalize()

	if r.validator != nil {
		if err := r.validator.Validate(obs); err != nil {
			r.invalid.Add(1)
			r.metrics.ObservationRejected("invalid")
			r.logger.Debug().Err(err).Str("tuple_id", obs.SequenceID).Msg("Observation rejected")
			return Observation{}, false
		}
	}

	if r.selectFn != nil && !r.selectFn(obs) {
		r.filtered.Add(1)
		r.metrics.ObservationRejected("filtered")
		return Observation{}, false
	}
	return obs, true
}

// Stats returns the reader counters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Lines:     r.lines.Load(),
		Accepted:  r.accepted.Load(),
		Malformed: r.malformed.Load(),
		Invalid:   r.invalid.Load(),
		Filtered:  r.filtered.Load(),
	}
}
