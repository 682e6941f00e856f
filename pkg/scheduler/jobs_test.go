package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LogCapture is a zerolog writer that keeps every line for inspection.
type LogCapture struct {
	mu   sync.Mutex
	logs []string
}

func (lc *LogCapture) Write(p []byte) (n int, err error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.logs = append(lc.logs, string(p))
	return len(p), nil
}

func (lc *LogCapture) GetLogs() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	out := make([]string, len(lc.logs))
	copy(out, lc.logs)
	return out
}

func writeModel(t *testing.T, dir, name, state, label string) {
	t.Helper()
	snap, err := models.SnapshotFromTraining(state, label, 1.0)
	require.NoError(t, err)
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, models.WriteSnapshot(f, snap))
	require.NoError(t, f.Close())
}

func TestLibraryReloadJob(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a", "abab", "From-Botnet-tcp-CC")

	lib := models.NewLibrary(zerolog.Nop())
	collector := serrors.NewStatsCollector()
	var outcomes []error
	job := NewLibraryReloadJob(lib, dir, zerolog.Nop()).
		WithErrorHandler(serrors.NewErrorHandler(zerolog.Nop(), collector)).
		OnReload(func(_ int, err error) { outcomes = append(outcomes, err) })
	assert.Equal(t, "library_reload", job.Name())

	job.Run(context.Background())
	assert.Equal(t, 1, lib.Len())
	assert.NoError(t, job.GetLastError())
	assert.Equal(t, 1, job.GetMetrics()["models"])

	writeModel(t, dir, "b", "cdcd", "From-Botnet-udp-scan")
	job.Run(context.Background())
	assert.Equal(t, 2, lib.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c"), []byte("{}\n"), 0o644))
	job.Run(context.Background())
	assert.Equal(t, 2, lib.Len(), "failed reload keeps the previous library")
	assert.Error(t, job.GetLastError())
	assert.Equal(t, 1, collector.GetErrorStats().ErrorsByType[serrors.TypeLoad])

	assert.Equal(t, 3, job.Runs())
	require.Len(t, outcomes, 3)
	assert.Error(t, outcomes[2])
}

func TestStatsReportJob(t *testing.T) {
	lc := &LogCapture{}
	job := NewStatsReportJob(zerolog.New(lc)).
		AddSource("pool", func() interface{} { return map[string]int{"processed": 12} }).
		AddSource("library", func() interface{} { return 3 })

	job.Run(context.Background())

	logs := lc.GetLogs()
	require.Len(t, logs, 1)
	assert.True(t, strings.Contains(logs[0], `"job":"stats_report"`))
	assert.True(t, strings.Contains(logs[0], `"pool":{"processed":12}`))
	assert.True(t, strings.Contains(logs[0], `"library":3`))
	assert.Equal(t, 1, job.Runs())
	assert.Equal(t, 3, job.GetMetrics()["library"])
}
