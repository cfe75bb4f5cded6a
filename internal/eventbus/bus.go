// Package eventbus publishes run lifecycle events to NATS JetStream.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

const publishTimeout = 5 * time.Second

// Publisher sends one message to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StatusWriter stores the latest status of a run lineage.
type StatusWriter interface {
	PutStatus(ctx context.Context, key string, value []byte) error
}

// Bus is a scheduler.Listener that publishes every notification. Publish
// failures are logged and never affect the run.
type Bus struct {
	pub    Publisher
	status StatusWriter
	prefix string
	logger *slog.Logger

	// contexts remembers run contexts between RunStarted and RunFinished.
	contexts *contextTable
}

// New returns a Bus. status may be nil.
func New(pub Publisher, status StatusWriter, prefix string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{pub: pub, status: status, prefix: prefix, logger: logger, contexts: newContextTable()}
}

// Subject returns the subject a message type is published on.
func (b *Bus) Subject(msgType string) string {
	return b.prefix + "." + msgType
}

func (b *Bus) RunStarted(ctx context.Context, info scheduler.RunInfo, d *graph.DAG) {
	b.contexts.put(info.ID, info.Context)
	var data struct {
		Jobs     []string         `json:"jobs"`
		Excluded []graph.Excluded `json:"excluded,omitempty"`
	}
	if d != nil {
		data.Jobs = d.Order()
		data.Excluded = d.Excluded()
	}
	b.publish(ctx, TypeRunStarted, info.ID, info.Context, info.StartedAt, data)
	b.putStatus(ctx, RunStatus{
		RunID: info.ID, Workspace: info.Context.Workspace, Ref: info.Context.Ref,
		Status: scheduler.RunRunning, StartedAt: info.StartedAt,
	})
}

func (b *Bus) JobTransition(ctx context.Context, t scheduler.Transition) {
	rc, _ := b.contexts.get(t.RunID)
	b.publish(ctx, TypeJobChanged, t.RunID, rc, t.At, t)
}

func (b *Bus) RunFinished(ctx context.Context, o *scheduler.Outcome) {
	b.contexts.remove(o.RunID)
	b.publish(ctx, TypeRunFinished, o.RunID, o.Context, o.FinishedAt, o)

	st := RunStatus{
		RunID: o.RunID, Workspace: o.Context.Workspace, Ref: o.Context.Ref,
		Status: o.Status, StartedAt: o.StartedAt, FinishedAt: &o.FinishedAt,
	}
	for _, j := range o.NonSucceeded() {
		st.Failed = append(st.Failed, j.Name)
	}
	b.putStatus(ctx, st)
}

func (b *Bus) publish(ctx context.Context, msgType, runID string, rc trigger.RunContext, at time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("Failed to marshal event", logfields.RunID(runID), logfields.Error(err))
		return
	}
	msg, err := json.Marshal(Envelope{Type: msgType, RunID: runID, Context: rc, At: at, Data: data})
	if err != nil {
		b.logger.Warn("Failed to marshal envelope", logfields.RunID(runID), logfields.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	subject := b.Subject(msgType)
	if err := b.pub.Publish(pubCtx, subject, msg); err != nil {
		b.logger.Warn("Failed to publish event",
			logfields.RunID(runID), logfields.Subject(subject), logfields.Error(err))
		return
	}
	b.logger.Debug("Published event", logfields.RunID(runID), logfields.Subject(subject))
}

func (b *Bus) putStatus(ctx context.Context, st RunStatus) {
	if b.status == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	key := StatusKey(st.Workspace, st.Ref)
	if err := b.status.PutStatus(putCtx, key, data); err != nil {
		b.logger.Warn("Failed to store run status", logfields.RunID(st.RunID), "key", key, logfields.Error(err))
	}
}

// StatusKey maps a workspace and ref onto the KV key alphabet.
func StatusKey(workspace, ref string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return clean(workspace) + "." + clean(ref)
}
