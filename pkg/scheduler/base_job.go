package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseJob carries what every job shares: its name, a logger tagged with the
// job name, and the outcome of the last run.
type BaseJob struct {
	name      string
	logger    zerolog.Logger
	mu        sync.Mutex
	lastRun   time.Time
	lastError error
	runs      int
	metrics   map[string]interface{}
}

// NewBaseJob creates a BaseJob with a given name and logger.
func NewBaseJob(name string, logger zerolog.Logger) *BaseJob {
	return &BaseJob{
		name:    name,
		logger:  logger.With().Str("job", name).Logger(),
		metrics: make(map[string]interface{}),
	}
}

// Name returns the job's name.
func (b *BaseJob) Name() string {
	return b.name
}

// Logger returns the job's logger.
func (b *BaseJob) Logger() zerolog.Logger {
	return b.logger
}

// RecordRun stores the outcome of one run.
func (b *BaseJob) RecordRun(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = time.Now()
	b.lastError = err
	b.runs++
}

// GetLastError returns the error of the last run, if any.
func (b *BaseJob) GetLastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// GetLastExecutionTime returns when the job last ran.
func (b *BaseJob) GetLastExecutionTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

// Runs returns how many times the job has run.
func (b *BaseJob) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

// UpdateMetrics is a helper to update a metric value.
func (b *BaseJob) UpdateMetrics(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// GetMetrics returns a copy of the job's metrics.
func (b *BaseJob) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	dest := make(map[string]interface{}, len(b.metrics))
	for k, v := range b.metrics {
		dest[k] = v
	}
	return dest
}
