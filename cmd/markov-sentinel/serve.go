package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucid-vigil/markov-sentinel/pkg/api"
	"github.com/lucid-vigil/markov-sentinel/pkg/classifier"
	"github.com/lucid-vigil/markov-sentinel/pkg/config"
	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/events"
	"github.com/lucid-vigil/markov-sentinel/pkg/ingest"
	"github.com/lucid-vigil/markov-sentinel/pkg/metrics"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/lucid-vigil/markov-sentinel/pkg/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveOnce bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Classify a stream of observations",
	Long: `Read JSON-lines observations from a file or stdin, classify each one
against the model library and publish the verdicts as events. Health,
metrics and the loaded model list are served over HTTP.`,
	Example: `  markov-sentinel serve --input flows.jsonl --once
  tail -f flows.jsonl | markov-sentinel serve --select 'protocol == "tcp" && !periodic'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("api-port", "8080", "HTTP port for /healthz, /metrics and /models")
	f.String("models-dir", "models", "directory of model snapshots")
	f.Bool("watch", true, "reload the library when the model directory changes")
	f.Int("workers", 0, "classifier workers (0 = one per logical CPU)")
	f.String("select", "", "expression choosing which observations to classify")
	f.StringP("input", "i", "-", "observation source, a file path or - for stdin")
	f.BoolVar(&serveOnce, "once", false, "exit when the input is exhausted")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().Msg("markov-sentinel starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s, ModelsDir=%s", cfg.LogLevel, cfg.APIPort, cfg.Models.Dir)

	lib, err := loadLibrary(cfg.Models.Dir)
	if err != nil {
		return err
	}

	selector, err := classifier.NewSelector(cfg.Classifier.Select)
	if err != nil {
		return serrors.NewConfigError("classifier", err, map[string]interface{}{"select": cfg.Classifier.Select})
	}

	src, err := openInput(cfg.Ingest.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	m := metrics.New()
	m.SetModelsLoaded(lib.Len())
	errHandler := serrors.NewErrorHandler(log.Logger, serrors.NewStatsCollector())

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The bus outlives ctx so verdicts already published are still delivered.
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	dedup := events.NewEventDeduplicator(cfg.Events.DedupWindow)
	defer dedup.Stop()
	bus := events.NewEventBus(log.Logger, cfg.Events.BufferSize).WithDeduplicator(dedup)
	bus.Subscribe(events.NewLogHandler(log.Logger))
	correlation := events.NewCorrelationEngine(log.Logger, cfg.Events.CorrelationWindow, bus)
	bus.Start(busCtx)

	c := classifier.New(lib, m, log.Logger)
	pool := classifier.NewPool(c, cfg.Classifier.Workers, log.Logger)
	reader := ingest.NewReader(log.Logger).
		WithValidator(events.NewObservationValidator(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst, cfg.Classifier.MaxStateLength)).
		WithSelector(selector.Match).
		WithMetrics(m)

	onReload := func(n int, err error) { m.LibraryReloaded(n, err) }

	sched := scheduler.NewScheduler(cfg)
	registerJobs(sched, cfg, lib, errHandler, onReload, map[string]scheduler.StatsSource{
		"reader":      func() interface{} { return reader.Stats() },
		"pool":        func() interface{} { return pool.Stats() },
		"events":      func() interface{} { return bus.GetMetrics() },
		"correlation": func() interface{} { return correlation.GetStats() },
		"models":      func() interface{} { return lib.Len() },
	})
	sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	srv := api.NewServer(cfg.APIPort, lib, m)
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.Models.Watch {
		watcher := models.NewWatcher(cfg.Models.Dir, lib, log.Logger).
			WithErrorHandler(errHandler).
			OnReload(onReload)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	// Closing the source unblocks a reader waiting on stdin.
	go func() {
		<-gctx.Done()
		src.Close()
	}()

	g.Go(func() error {
		err := runPipeline(gctx, reader, pool, bus, src, cfg.Classifier.QueueSize)
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		stats := reader.Stats()
		log.Info().Uint64("lines", stats.Lines).Uint64("accepted", stats.Accepted).Msg("Input exhausted")
		if serveOnce {
			cancel()
		}
		return nil
	})

	err = g.Wait()
	cancel()
	sched.Wait()
	bus.Stop()

	if err != nil {
		log.Error().Err(err).Msg("markov-sentinel stopped with error")
		return err
	}
	log.Info().Msg("markov-sentinel stopped.")
	return nil
}

// runPipeline wires reader, pool and bus together and returns once the input
// is drained or ctx is cancelled.
func runPipeline(ctx context.Context, reader *ingest.Reader, pool *classifier.Pool, bus *events.EventBus, src io.Reader, queueSize int) error {
	observations := make(chan ingest.Observation, queueSize)
	verdicts := make(chan classifier.Verdict, queueSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.Run(ctx, src, observations) })
	g.Go(func() error { return pool.Run(ctx, observations, verdicts) })
	g.Go(func() error {
		for v := range verdicts {
			if err := bus.PublishVerdict(ctx, v); err != nil {
				log.Warn().Err(err).Str("tuple_id", v.SequenceID).Msg("Verdict not published")
			}
		}
		return nil
	})
	return g.Wait()
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, lib *models.Library, errHandler *serrors.ErrorHandler,
	onReload models.ReloadFunc, sources map[string]scheduler.StatsSource) {
	if cfg.Models.ReloadInterval > 0 {
		cfg.EnableJob("library_reload", cfg.Models.ReloadInterval)
	}
	sched.RegisterJob(scheduler.NewLibraryReloadJob(lib, cfg.Models.Dir, log.Logger).
		WithErrorHandler(errHandler).
		OnReload(onReload))

	stats := scheduler.NewStatsReportJob(log.Logger)
	for name, src := range sources {
		stats.AddSource(name, src)
	}
	sched.RegisterJob(stats)
}

// openInput opens path for reading; "-" is stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, serrors.NewConfigError("ingest", fmt.Errorf("open input: %w", err), map[string]interface{}{"input": path})
	}
	return f, nil
}
