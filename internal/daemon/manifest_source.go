package daemon

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
)

// ManifestSource holds the pipeline the daemon plans new runs from. A
// failed reload keeps the previous pipeline so a bad edit never stops
// scheduled runs.
type ManifestSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *manifest.Pipeline
	lastErr error
}

// NewManifestSource loads path once. The initial load must succeed.
func NewManifestSource(path string, logger *slog.Logger) (*ManifestSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	return &ManifestSource{path: path, logger: logger, current: p}, nil
}

func (s *ManifestSource) Path() string { return s.path }

// Current returns the last pipeline that loaded without errors.
func (s *ManifestSource) Current() *manifest.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LastError returns the error of the most recent reload, if it failed.
func (s *ManifestSource) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Reload parses the manifest again and swaps it in on success.
func (s *ManifestSource) Reload() error {
	p, err := manifest.Load(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err != nil {
		s.logger.Error("Manifest reload failed, keeping previous pipeline", logfields.Path(s.path), logfields.Error(err))
		return err
	}
	s.current = p
	s.logger.Info("Manifest reloaded", logfields.Path(s.path), "jobs", len(p.Jobs))
	return nil
}
