package daemon

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/pipewright/internal/artifact"
	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/runqueue"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Enqueuer accepts run requests.
type Enqueuer interface {
	Enqueue(rc trigger.RunContext) (runqueue.Entry, error)
}

// Pruner deletes expired artifact bundles.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (artifact.PruneReport, error)
}

// Scheduler wraps gocron for cron-triggered runs and periodic housekeeping.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueuer  Enqueuer
	workspace string
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a stopped scheduler that enqueues into q.
func NewScheduler(q Enqueuer, workspace string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.DaemonError("failed to create scheduler").WithCause(err).Build()
	}
	return &Scheduler{scheduler: s, enqueuer: q, workspace: workspace, logger: logger, now: time.Now}, nil
}

// AddSchedule registers a cron schedule that enqueues a run of sc.Ref.
func (s *Scheduler) AddSchedule(sc config.ScheduleConfig) error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(sc.Cron, false),
		gocron.NewTask(s.fire, sc),
		gocron.WithName("schedule-"+sc.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.ConfigError("invalid schedule").WithCause(err).
			WithContext("schedule", sc.Name).WithContext("cron", sc.Cron).Build()
	}
	s.logger.Info("Schedule registered", logfields.ScheduleName(sc.Name), "cron", sc.Cron, logfields.Ref(sc.Ref))
	return nil
}

// AddPrune runs p every interval.
func (s *Scheduler) AddPrune(interval time.Duration, p Pruner) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.prune, p),
		gocron.WithName("artifact-prune"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.DaemonError("failed to schedule artifact pruning").WithCause(err).Build()
	}
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", "jobs", len(s.scheduler.Jobs()))
	s.scheduler.Start()
}

// Stop waits for running tasks to return.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) fire(sc config.ScheduleConfig) {
	rc := trigger.RunContext{
		Workspace: s.workspace,
		Ref:       sc.Ref,
		Kind:      trigger.KindSchedule,
		Source:    "schedule",
		Variables: maps.Clone(sc.Variables),
	}
	entry, err := s.enqueuer.Enqueue(rc)
	if err != nil {
		s.logger.Error("Failed to enqueue scheduled run", logfields.ScheduleName(sc.Name), logfields.Error(err))
		return
	}
	s.logger.Info("Scheduled run enqueued", logfields.ScheduleName(sc.Name), logfields.RunID(entry.ID), logfields.Ref(sc.Ref))
}

func (s *Scheduler) prune(p Pruner) {
	rep, err := p.Prune(context.Background(), s.now())
	if err != nil {
		s.logger.Error("Artifact pruning failed", logfields.Error(err))
		return
	}
	s.logger.Info("Artifact pruning finished", "deleted", len(rep.Deleted), "kept", rep.Kept)
}
