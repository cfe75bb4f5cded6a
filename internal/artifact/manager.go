// Package artifact captures job outputs into bundles, hands them to
// dependent jobs and deletes them when they expire.
package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/storage"
	"git.home.luguber.info/inful/pipewright/internal/workspace"
)

// Metadata keys kept with every bundle object.
const (
	metaBundleID  = "bundle-id"
	metaRunID     = "run-id"
	metaJob       = "job"
	metaName      = "name"
	metaWhen      = "when"
	metaState     = "state"
	metaFiles     = "files"
	metaCreatedAt = "created-at"
	metaExpiresAt = "expires-at"

	neverExpires = "never"
	defaultName  = "artifacts"
)

// Bundle describes one stored artifact bundle.
type Bundle struct {
	ID        string                `json:"id"`
	RunID     string                `json:"run_id"`
	Job       string                `json:"job"`
	Name      string                `json:"name"`
	When      manifest.ArtifactWhen `json:"when"`
	Succeeded bool                  `json:"succeeded"`
	Key       string                `json:"key"`
	Size      int64                 `json:"size"`
	Digest    string                `json:"digest,omitempty"`
	Files     int                   `json:"files"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt *time.Time            `json:"expires_at,omitempty"`
}

// Expired reports whether the bundle expired at now.
func (b Bundle) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// PruneReport summarizes one Prune pass.
type PruneReport struct {
	Deleted []Bundle
	Kept    int
}

// Manager stores bundles in an ObjectStore.
type Manager struct {
	store         storage.ObjectStore
	defaultExpire expiry.Period
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager uses defaultExpire for jobs that declare no expire_in.
func NewManager(store storage.ObjectStore, defaultExpire expiry.Period, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, defaultExpire: defaultExpire, logger: logger, now: time.Now}
}

func jobPrefix(runID, job string) string {
	return "runs/" + runID + "/" + workspace.DirName(job) + "/"
}

func runPrefix(runID string) string {
	if runID == "" {
		return "runs/"
	}
	return "runs/" + runID + "/"
}

// Capture bundles the declared artifact paths of job below root once the
// job is terminal. It returns nil when the job declares no artifacts, when
// the when-policy skips this outcome, or when no file matched. A failed job
// first discards any on_success bundle of the same run.
func (m *Manager) Capture(ctx context.Context, runID string, job *manifest.Job, root string, succeeded bool) (*Bundle, error) {
	log := m.logger.With(logfields.RunID(runID), logfields.Job(job.Name))
	if !succeeded {
		if _, err := m.Discard(ctx, runID, job.Name); err != nil {
			log.Warn("Discarding stale bundles failed", logfields.Error(err))
		}
	}
	art := job.Artifacts
	if art == nil || !art.When.CapturedOn(succeeded) {
		return nil, nil
	}

	files, err := Collect(root, art.Paths, art.Exclude)
	if err != nil {
		return nil, errors.ArtifactError("collect artifact paths").
			WithCause(err).
			WithContext("job", job.Name).
			Build()
	}
	if len(files) == 0 {
		log.Warn("No files matched artifact paths", "paths", art.Paths)
		return nil, nil
	}

	name := art.Name
	if name == "" {
		name = defaultName
	}
	when := art.When
	if when == "" {
		when = manifest.ArtifactsOnSuccess
	}
	period := art.ExpireIn
	if period.IsZero() {
		period = m.defaultExpire
	}
	created := m.now().UTC()
	b := Bundle{
		ID:        uuid.NewString(),
		RunID:     runID,
		Job:       job.Name,
		Name:      name,
		When:      when,
		Succeeded: succeeded,
		Files:     len(files),
		CreatedAt: created,
	}
	if !period.IsZero() {
		b.ExpiresAt = period.ExpiresAt(created)
	}
	b.Key = jobPrefix(runID, job.Name) + workspace.DirName(name) + "-" + b.ID + ".tar.gz"

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeBundle(pw, root, files))
	}()
	info, err := m.store.Put(ctx, b.Key, pr, encodeMeta(b))
	_ = pr.Close()
	if err != nil {
		return nil, errors.ArtifactError("store artifact bundle").
			WithCause(err).
			WithContext("job", job.Name).
			WithContext("key", b.Key).
			Build()
	}
	b.Size = info.Size
	b.Digest = info.Digest
	log.Info("Captured artifacts", logfields.Bundle(b.ID), "files", b.Files, "size", b.Size)
	return &b, nil
}

// Discard deletes the on_success bundles of (runID, job).
func (m *Manager) Discard(ctx context.Context, runID, job string) (int, error) {
	objs, err := m.store.List(ctx, jobPrefix(runID, job))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, obj := range objs {
		b := decodeMeta(obj)
		if b.When != manifest.ArtifactsOnSuccess {
			continue
		}
		if err := m.store.Delete(ctx, obj.Key); err != nil && !storage.IsNotFound(err) {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns the bundles of a run, or of every run when runID is empty.
func (m *Manager) List(ctx context.Context, runID string) ([]Bundle, error) {
	objs, err := m.store.List(ctx, runPrefix(runID))
	if err != nil {
		return nil, errors.ArtifactError("list artifact bundles").WithCause(err).Build()
	}
	out := make([]Bundle, 0, len(objs))
	for _, obj := range objs {
		out = append(out, decodeMeta(obj))
	}
	return out, nil
}

// Materialize extracts the bundles of producers in runID read-only into
// dest/<producer>. Producers without bundles are skipped. It returns the
// IDs of the extracted bundles.
func (m *Manager) Materialize(ctx context.Context, runID string, producers []string, dest string) ([]string, error) {
	var ids []string
	for _, producer := range producers {
		objs, err := m.store.List(ctx, jobPrefix(runID, producer))
		if err != nil {
			return ids, errors.ArtifactError("list producer bundles").
				WithCause(err).
				WithContext("producer", producer).
				Build()
		}
		target := filepath.Join(dest, workspace.DirName(producer))
		for _, obj := range objs {
			b := decodeMeta(obj)
			if b.Job != "" && b.Job != producer {
				continue
			}
			if err := m.extract(ctx, obj.Key, target); err != nil {
				return ids, errors.ArtifactError("materialize artifacts").
					WithCause(err).
					WithContext("producer", producer).
					WithContext("key", obj.Key).
					Build()
			}
			ids = append(ids, b.ID)
			m.logger.Debug("Materialized artifacts", logfields.RunID(runID), "producer", producer, logfields.Bundle(b.ID))
		}
	}
	return ids, nil
}

func (m *Manager) extract(ctx context.Context, key, target string) error {
	rc, _, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(target, 0o750); err != nil {
		return err
	}
	_, err = extractBundle(rc, target)
	return err
}

// Prune deletes every bundle that expired at now.
func (m *Manager) Prune(ctx context.Context, now time.Time) (PruneReport, error) {
	var rep PruneReport
	objs, err := m.store.List(ctx, runPrefix(""))
	if err != nil {
		return rep, errors.ArtifactError("list artifact bundles").WithCause(err).Build()
	}
	for _, obj := range objs {
		b := decodeMeta(obj)
		if !b.Expired(now) {
			rep.Kept++
			continue
		}
		if err := m.store.Delete(ctx, obj.Key); err != nil && !storage.IsNotFound(err) {
			return rep, errors.ArtifactError("delete expired bundle").
				WithCause(err).
				WithContext("key", obj.Key).
				Build()
		}
		rep.Deleted = append(rep.Deleted, b)
	}
	if len(rep.Deleted) > 0 {
		m.logger.Info("Pruned expired artifacts", "deleted", len(rep.Deleted), "kept", rep.Kept)
	}
	return rep, nil
}

func encodeMeta(b Bundle) storage.Metadata {
	state := "failed"
	if b.Succeeded {
		state = "succeeded"
	}
	meta := storage.Metadata{
		metaBundleID:  b.ID,
		metaRunID:     b.RunID,
		metaJob:       b.Job,
		metaName:      b.Name,
		metaWhen:      string(b.When),
		metaState:     state,
		metaFiles:     strconv.Itoa(b.Files),
		metaCreatedAt: b.CreatedAt.Format(time.RFC3339Nano),
		metaExpiresAt: neverExpires,
	}
	if b.ExpiresAt != nil {
		meta[metaExpiresAt] = b.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return meta
}

// decodeMeta rebuilds a Bundle from stored object info. Objects without
// metadata never expire.
func decodeMeta(obj storage.ObjectInfo) Bundle {
	meta := obj.Metadata
	b := Bundle{
		ID:        meta[metaBundleID],
		RunID:     meta[metaRunID],
		Job:       meta[metaJob],
		Name:      meta[metaName],
		When:      manifest.ArtifactWhen(meta[metaWhen]),
		Succeeded: meta[metaState] == "succeeded",
		Key:       obj.Key,
		Size:      obj.Size,
		Digest:    obj.Digest,
		CreatedAt: obj.CreatedAt,
	}
	if b.ID == "" {
		base := filepath.Base(obj.Key)
		b.ID = strings.TrimSuffix(base, ".tar.gz")
	}
	if n, err := strconv.Atoi(meta[metaFiles]); err == nil {
		b.Files = n
	}
	if t, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err == nil {
		b.CreatedAt = t
	}
	if raw := meta[metaExpiresAt]; raw != "" && raw != neverExpires {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			b.ExpiresAt = &t
		}
	}
	return b
}

func (b Bundle) String() string {
	return fmt.Sprintf("%s/%s (%s)", b.RunID, b.Job, b.ID)
}
