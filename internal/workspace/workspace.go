package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/pipewright/internal/logfields"
)

// Manager creates and removes run directories under a base directory.
type Manager struct {
	baseDir string
	keep    bool // If true, Cleanup leaves run directories in place
	logger  *slog.Logger
}

// NewManager creates a manager whose runs are removed on Cleanup.
func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "pipewright")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{baseDir: baseDir, logger: logger}
}

// NewPersistentManager keeps run directories after Cleanup for debugging.
func NewPersistentManager(baseDir string, logger *slog.Logger) *Manager {
	m := NewManager(baseDir, logger)
	m.keep = true
	return m
}

// JobPaths are the directories prepared for one job.
type JobPaths struct {
	Root         string
	WorkDir      string
	CacheDir     string
	ArtifactsDir string
	LogPath      string
}

// RunDir returns the directory of a run without creating it.
func (m *Manager) RunDir(runID string) string {
	return filepath.Join(m.baseDir, runID)
}

// PrepareJob creates the directories of one job of a run. Calling it again for
// the same job reuses the directories.
func (m *Manager) PrepareJob(runID, job string) (JobPaths, error) {
	root := filepath.Join(m.RunDir(runID), "jobs", DirName(job))
	paths := JobPaths{
		Root:         root,
		WorkDir:      filepath.Join(root, "work"),
		CacheDir:     filepath.Join(root, ".pipewright", "cache"),
		ArtifactsDir: filepath.Join(root, ".pipewright", "artifacts"),
		LogPath:      filepath.Join(m.RunDir(runID), "logs", DirName(job)+".log"),
	}
	for _, dir := range []string{paths.WorkDir, paths.CacheDir, paths.ArtifactsDir, filepath.Dir(paths.LogPath)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return JobPaths{}, fmt.Errorf("failed to create job directory: %w", err)
		}
	}
	return paths, nil
}

// LogPath returns where the log of job in runID is written.
func (m *Manager) LogPath(runID, job string) string {
	return filepath.Join(m.RunDir(runID), "logs", DirName(job)+".log")
}

// Cleanup removes the run directory unless the manager keeps runs.
func (m *Manager) Cleanup(runID string) error {
	dir := m.RunDir(runID)
	if m.keep {
		m.logger.Debug("Keeping run workspace", logfields.RunID(runID), logfields.Path(dir))
		return nil
	}
	// Job logs outlive the run so they can still be inspected.
	jobs := filepath.Join(dir, "jobs")
	if err := os.RemoveAll(jobs); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	m.logger.Debug("Cleaned up run workspace", logfields.RunID(runID), logfields.Path(jobs))
	return nil
}

// DirName maps a job name to a safe directory name. Names that need
// rewriting get a short hash suffix so distinct jobs never collide.
func DirName(job string) string {
	var b strings.Builder
	for _, r := range job {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	clean := b.String()
	if clean == job && clean != "." && clean != ".." && clean != "" {
		return clean
	}
	sum := sha256.Sum256([]byte(job))
	return clean + "-" + hex.EncodeToString(sum[:4])
}
