package classifier

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/lucid-vigil/markov-sentinel/pkg/ingest"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// PoolStats is a snapshot of the pool counters.
type PoolStats struct {
	Workers   int    `json:"workers"`
	Processed uint64 `json:"processed"`
	Found     uint64 `json:"found"`
	Matched   uint64 `json:"matched"`
}

// Pool classifies observations on a fixed number of workers. Each worker takes
// one observation per turn.
type Pool struct {
	classifier *Classifier
	workers    int
	logger     zerolog.Logger

	processed atomic.Uint64
	found     atomic.Uint64
	matched   atomic.Uint64
}

// NewPool creates a pool. workers < 1 means DefaultWorkers.
func NewPool(c *Classifier, workers int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkers()
	}
	return &Pool{
		classifier: c,
		workers:    workers,
		logger:     logger.With().Str("component", "classifier_pool").Logger(),
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Run classifies everything received on in and sends the verdicts to out. It
// returns when in is closed and drained, or when ctx is cancelled, and closes
// out before returning.
func (p *Pool) Run(ctx context.Context, in <-chan ingest.Observation, out chan<- Verdict) error {
	defer close(out)
	p.logger.Info().Int("workers", p.workers).Msg("Classifier pool starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker, in, out)
		})
	}

	err := g.Wait()
	p.logger.Info().Uint64("processed", p.processed.Load()).Msg("Classifier pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, worker int, in <-chan ingest.Observation, out chan<- Verdict) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-in:
			if !ok {
				return nil
			}
			v := p.classifier.Classify(obs.Protocol, obs.Symbols(), obs.SequenceID)
			p.count(v)
			p.logger.Debug().Int("worker", worker).Str("tuple_id", v.SequenceID).Str("result", v.Result()).Msg("Observation classified")

			select {
			case out <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Pool) count(v Verdict) {
	p.processed.Add(1)
	if v.Found {
		p.found.Add(1)
	}
	if v.Matched {
		p.matched.Add(1)
	}
}

// Stats returns the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Processed: p.processed.Load(),
		Found:     p.found.Load(),
		Matched:   p.matched.Load(),
	}
}
