package models

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/rs/zerolog"
)

// Library is the ordered set of loaded models. Order is load order and decides
// which model wins when several could match.
type Library struct {
	mu     sync.RWMutex
	models []*Model
	logger zerolog.Logger
}

// NewLibrary creates an empty library.
func NewLibrary(logger zerolog.Logger) *Library {
	return &Library{
		logger: logger.With().Str("component", "model_library").Logger(),
	}
}

// Models returns the models in scan order. The slice is a copy; the models are shared.
func (l *Library) Models() []*Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Model, len(l.models))
	copy(out, l.models)
	return out
}

// Len returns the number of loaded models.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.models)
}

// ByProtocol returns the models for a protocol, in scan order.
func (l *Library) ByProtocol(protocol string) []*Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Model
	for _, m := range l.models {
		if m.MatchesProtocol(protocol) {
			out = append(out, m)
		}
	}
	return out
}

// LoadFromDirectory appends every snapshot file in dir, in file-name order,
// with ids continuing from the last loaded model. Either every file loads or
// the library is left untouched. It returns the number of models added.
func (l *Library) LoadFromDirectory(dir string) (int, error) {
	snaps, err := readDirectory(dir)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	added, err := buildModels(snaps, nextID(l.models))
	if err != nil {
		return 0, serrors.NewLoadError("model_library", dir, err)
	}
	l.models = append(l.models, added...)

	for _, m := range added {
		l.logger.Debug().Int("model_id", m.ID).Str("label", m.Label.Raw).Msg("Adding model to the library")
	}
	l.logger.Info().Str("dir", dir).Int("added", len(added)).Int("total", len(l.models)).Msg("Models loaded")
	return len(added), nil
}

// LoadOneModel appends the model stored in a single snapshot file.
func (l *Library) LoadOneModel(path string) (*Model, error) {
	snap, err := readSnapshotFile(path)
	if err != nil {
		return nil, serrors.NewLoadError("model_library", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := newModel(nextID(l.models), snap)
	if err != nil {
		return nil, serrors.NewLoadError("model_library", path, err)
	}
	l.models = append(l.models, m)
	l.logger.Debug().Int("model_id", m.ID).Str("label", m.Label.Raw).Msg("Adding model to the library")
	return m, nil
}

// Reload replaces the whole library with the snapshots in dir, numbered from 1.
// On failure the previous models stay installed.
func (l *Library) Reload(dir string) (int, error) {
	snaps, err := readDirectory(dir)
	if err != nil {
		return 0, err
	}
	fresh, err := buildModels(snaps, 1)
	if err != nil {
		return 0, serrors.NewLoadError("model_library", dir, err)
	}

	l.mu.Lock()
	l.models = fresh
	l.mu.Unlock()

	l.logger.Info().Str("dir", dir).Int("total", len(fresh)).Msg("Model library reloaded")
	return len(fresh), nil
}

type namedSnapshot struct {
	path string
	snap *Snapshot
}

func readDirectory(dir string) ([]namedSnapshot, error) {
	if dir == "" {
		return nil, serrors.NewLoadError("model_library", dir, serrors.ErrEmptyPath)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, serrors.NewLoadError("model_library", dir, err)
	}
	if !info.IsDir() {
		return nil, serrors.NewLoadError("model_library", dir, serrors.ErrNotDirectory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, serrors.NewLoadError("model_library", dir, err)
	}

	var snaps []namedSnapshot
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		mode := entry.Type()
		if mode&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return nil, serrors.NewLoadError("model_library", dir, err)
			}
			mode = info.Mode().Type()
		}
		if mode.IsDir() {
			continue
		}
		if !mode.IsRegular() {
			return nil, serrors.NewLoadError("model_library", dir,
				fmt.Errorf("%s: not a regular file (%s)", path, mode))
		}
		snap, err := readSnapshotFile(path)
		if err != nil {
			return nil, serrors.NewLoadError("model_library", dir, err)
		}
		snaps = append(snaps, namedSnapshot{path: path, snap: snap})
	}
	return snaps, nil
}

func readSnapshotFile(path string) (*Snapshot, error) {
	if path == "" {
		return nil, serrors.ErrEmptyPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(f, path)
}

func buildModels(snaps []namedSnapshot, firstID int) ([]*Model, error) {
	out := make([]*Model, 0, len(snaps))
	for i, ns := range snaps {
		m, err := newModel(firstID+i, ns.snap)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ns.path, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func nextID(models []*Model) int {
	if len(models) == 0 {
		return 1
	}
	return models[len(models)-1].ID + 1
}
