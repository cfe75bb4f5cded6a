package pipeline

import (
	"context"
	"maps"

	"git.home.luguber.info/inful/pipewright/internal/cache"
	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
)

// jobHooks prepares each job's directories, upstream artifacts and cache,
// and captures artifacts and persists the cache once the job is terminal.
type jobHooks struct {
	e    *Engine
	plan *Plan
}

func (h *jobHooks) Prepare(ctx context.Context, run scheduler.RunInfo, node *graph.Node, attempt int) (executor.JobSpec, error) {
	e := h.e
	job := node.Job
	log := e.logger.With(logfields.RunID(run.ID), logfields.Job(job.Name), logfields.Attempt(attempt))

	paths, err := e.workspaces.PrepareJob(run.ID, job.Name)
	if err != nil {
		return executor.JobSpec{}, err
	}
	workDir := paths.WorkDir
	if e.cfg.Executor.WorkDir == config.WorkDirProject {
		workDir = e.projectDir
	}

	if e.artifacts != nil && len(node.ArtifactSources) > 0 {
		ids, err := e.artifacts.Materialize(ctx, run.ID, node.ArtifactSources, paths.ArtifactsDir)
		if err != nil {
			return executor.JobSpec{}, err
		}
		log.Debug("Upstream artifacts ready", "bundles", len(ids))
	}

	if c := job.Cache; e.caches != nil && c != nil && c.Policy.Pulls() {
		key := cacheKey(run, job)
		dest := paths.CacheDir
		if len(c.Paths) > 0 {
			dest = workDir
		}
		res, err := e.caches.Restore(ctx, key, dest)
		switch {
		case err != nil:
			log.Warn("Cache unavailable, continuing cold", logfields.CacheKey(key.String()), logfields.Error(err))
		case res.Hit:
			log.Info("Cache restored", logfields.CacheKey(key.String()), "version", res.Version)
		}
		if attempt == 1 {
			e.recorder.IncCacheResult(err == nil && res.Hit)
		}
	}

	spec := scheduler.SpecFor(run, node, attempt, workDir)
	spec.Variables = maps.Clone(job.Variables)
	if spec.Variables == nil {
		spec.Variables = map[string]string{}
	}
	// Variables passed with the trigger win over manifest values.
	maps.Copy(spec.Variables, h.plan.Context.Variables)
	spec.CacheDir = paths.CacheDir
	spec.ArtifactsDir = paths.ArtifactsDir
	spec.LogPath = paths.LogPath
	if spec.Timeout <= 0 {
		spec.Timeout = e.cfg.Executor.DefaultTimeout.Std()
	}
	return spec, nil
}

func (h *jobHooks) Finish(ctx context.Context, run scheduler.RunInfo, node *graph.Node, spec executor.JobSpec, res executor.Result) ([]string, error) {
	e := h.e
	job := node.Job
	succeeded := res.Status == executor.StatusSuccess

	root := res.OutputDir
	if root == "" {
		root = spec.WorkDir
	}

	var bundles []string
	var captureErr error
	if e.artifacts != nil {
		b, err := e.artifacts.Capture(ctx, run.ID, job, root, succeeded)
		if err != nil {
			captureErr = err
		} else if b != nil {
			bundles = append(bundles, b.ID)
		}
	}

	if c := job.Cache; succeeded && e.caches != nil && c != nil && c.Policy.Pushes() {
		key := cacheKey(run, job)
		src := spec.CacheDir
		if len(c.Paths) > 0 {
			src = root
		}
		if _, err := e.caches.Persist(ctx, key, src, c.Paths); err != nil {
			e.logger.Warn("Cache not persisted", logfields.RunID(run.ID), logfields.Job(job.Name),
				logfields.CacheKey(key.String()), logfields.Error(err))
		}
	}
	return bundles, captureErr
}

func cacheKey(run scheduler.RunInfo, job *manifest.Job) cache.Key {
	k := cache.Key{Workspace: run.Context.Workspace, Ref: run.Context.Ref, Job: job.Name}
	if job.Cache != nil {
		k.Suffix = job.Cache.Key
	}
	return k
}
