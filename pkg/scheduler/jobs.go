package scheduler

import (
	"context"
	"sort"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/rs/zerolog"
)

// LibraryReloadJob rescans the snapshot directory on every run. It is the
// fallback for filesystems where change notification is unavailable.
type LibraryReloadJob struct {
	*BaseJob
	library    *models.Library
	dir        string
	errHandler *serrors.ErrorHandler
	onReload   models.ReloadFunc
}

func NewLibraryReloadJob(library *models.Library, dir string, logger zerolog.Logger) *LibraryReloadJob {
	base := NewBaseJob("library_reload", logger)
	return &LibraryReloadJob{
		BaseJob:    base,
		library:    library,
		dir:        dir,
		errHandler: serrors.NewErrorHandler(base.Logger(), nil),
	}
}

// OnReload registers a callback for reload outcomes.
func (j *LibraryReloadJob) OnReload(fn models.ReloadFunc) *LibraryReloadJob {
	j.onReload = fn
	return j
}

// WithErrorHandler routes failed reloads to h.
func (j *LibraryReloadJob) WithErrorHandler(h *serrors.ErrorHandler) *LibraryReloadJob {
	if h != nil {
		j.errHandler = h
	}
	return j
}

func (j *LibraryReloadJob) Run(ctx context.Context) {
	n, err := j.library.Reload(j.dir)
	j.RecordRun(err)
	if err != nil {
		_ = j.errHandler.HandleError(ctx, j.Name(), err)
	} else {
		j.UpdateMetrics("models", n)
	}
	if j.onReload != nil {
		j.onReload(n, err)
	}
}

// StatsSource reports the counters of one component.
type StatsSource func() interface{}

// StatsReportJob logs the counters of the running components.
type StatsReportJob struct {
	*BaseJob
	sources map[string]StatsSource
}

func NewStatsReportJob(logger zerolog.Logger) *StatsReportJob {
	return &StatsReportJob{
		BaseJob: NewBaseJob("stats_report", logger),
		sources: make(map[string]StatsSource),
	}
}

// AddSource registers a component under name.
func (j *StatsReportJob) AddSource(name string, src StatsSource) *StatsReportJob {
	j.sources[name] = src
	return j
}

func (j *StatsReportJob) Run(_ context.Context) {
	names := make([]string, 0, len(j.sources))
	for name := range j.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	logger := j.Logger()
	e := logger.Info()
	for _, name := range names {
		stats := j.sources[name]()
		j.UpdateMetrics(name, stats)
		e = e.Interface(name, stats)
	}
	e.Msg("Runtime statistics")
	j.RecordRun(nil)
}
