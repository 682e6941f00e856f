package models

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc is told the outcome of every reload the watcher performs.
type ReloadFunc func(count int, err error)

// Watcher reloads a Library whenever the snapshot directory changes. Bursts
// of filesystem events are coalesced into one reload.
type Watcher struct {
	dir        string
	library    *Library
	debounce   time.Duration
	logger     zerolog.Logger
	errHandler *serrors.ErrorHandler
	onReload   ReloadFunc
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, library *Library, logger zerolog.Logger) *Watcher {
	l := logger.With().Str("component", "model_watcher").Logger()
	return &Watcher{
		dir:        dir,
		library:    library,
		debounce:   defaultDebounce,
		logger:     l,
		errHandler: serrors.NewErrorHandler(l, nil),
	}
}

// WithDebounce sets how long the directory must be quiet before reloading.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithErrorHandler routes failed reloads to h.
func (w *Watcher) WithErrorHandler(h *serrors.ErrorHandler) *Watcher {
	if h != nil {
		w.errHandler = h
	}
	return w
}

// OnReload registers a callback for reload outcomes.
func (w *Watcher) OnReload(fn ReloadFunc) *Watcher {
	w.onReload = fn
	return w
}

// Run watches until ctx is cancelled. A failed reload keeps the previous library.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return serrors.NewLoadError("model_watcher", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Dur("debounce", w.debounce).Msg("Watching model directory")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("Model directory changed")
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Model watcher error")
		case <-timer.C:
			w.reload(ctx)
		case <-ctx.Done():
			w.logger.Info().Msg("Model watcher received shutdown signal")
			return nil
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func (w *Watcher) reload(ctx context.Context) {
	n, err := w.library.Reload(w.dir)
	if err != nil {
		_ = w.errHandler.HandleError(ctx, "model_watcher", err)
	}
	if w.onReload != nil {
		w.onReload(n, err)
	}
}
