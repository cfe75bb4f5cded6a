package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
)

const defaultDebounce = 2 * time.Second

// Watcher calls onChange after the watched file settles. It watches the
// parent directory because editors replace files by rename.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher prepares a watcher for path. Nothing is watched until Run.
func NewWatcher(path string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.DaemonError("failed to resolve watched path").WithCause(err).WithContext("path", path).Build()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.DaemonError("failed to create file watcher").WithCause(err).Build()
	}
	return &Watcher{path: abs, onChange: onChange, debounce: defaultDebounce, watcher: fw, logger: logger}, nil
}

// Run blocks until ctx is canceled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return errors.DaemonError("failed to watch directory").WithCause(err).WithContext("path", dir).Build()
	}
	w.logger.Info("Watching manifest", logfields.Path(w.path))

	name := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Remove):
				w.logger.Warn("Manifest removed", logfields.Path(ev.Name))
			case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Rename):
				w.logger.Debug("Manifest change detected", logfields.Path(ev.Name), "op", ev.Op.String())
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Manifest watcher error", logfields.Error(err))
		}
	}
}
