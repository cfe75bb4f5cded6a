package eventbus

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

type message struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	mu       sync.Mutex
	messages []message
	status   map[string][]byte
	fail     bool
}

func (f *fakeNATS) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return stderrors.New("no responders")
	}
	f.messages = append(f.messages, message{subject, data})
	return nil
}

func (f *fakeNATS) PutStatus(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = map[string][]byte{}
	}
	f.status[key] = value
	return nil
}

func TestBusPublishesLifecycle(t *testing.T) {
	fake := &fakeNATS{}
	bus := New(fake, fake, "pw", nil)
	rc := trigger.RunContext{Workspace: "mono", Ref: "feature/x", Kind: trigger.KindBranch}
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	bus.RunStarted(t.Context(), scheduler.RunInfo{ID: "r1", Context: rc, StartedAt: start}, nil)
	bus.JobTransition(t.Context(), scheduler.Transition{RunID: "r1", Job: "build", From: scheduler.StateReady, To: scheduler.StateRunning, Attempt: 1, At: start})
	bus.RunFinished(t.Context(), &scheduler.Outcome{
		RunID: "r1", Status: scheduler.RunFailed, Context: rc, StartedAt: start, FinishedAt: start.Add(time.Minute),
		Jobs: []scheduler.JobResult{
			{Name: "build", State: scheduler.StateSucceeded},
			{Name: "test", State: scheduler.StateFailed},
		},
	})

	require.Len(t, fake.messages, 3)
	assert.Equal(t, "pw.run.started", fake.messages[0].subject)
	assert.Equal(t, "pw.job.transition", fake.messages[1].subject)
	assert.Equal(t, "pw.run.finished", fake.messages[2].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(fake.messages[1].data, &env))
	assert.Equal(t, TypeJobChanged, env.Type)
	assert.Equal(t, "r1", env.RunID)
	assert.Equal(t, "feature/x", env.Context.Ref, "job events carry the run context")

	var tr scheduler.Transition
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, scheduler.StateRunning, tr.To)

	raw, ok := fake.status[StatusKey("mono", "feature/x")]
	require.True(t, ok)
	var st RunStatus
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, scheduler.RunFailed, st.Status)
	assert.Equal(t, []string{"test"}, st.Failed)
	require.NotNil(t, st.FinishedAt)
}

func TestBusPublishFailureIsSwallowed(t *testing.T) {
	fake := &fakeNATS{fail: true}
	bus := New(fake, nil, "pw", nil)

	assert.NotPanics(t, func() {
		bus.RunFinished(t.Context(), &scheduler.Outcome{RunID: "r1", Status: scheduler.RunSucceeded})
	})
	assert.Empty(t, fake.messages)
}

func TestBusPublishesAfterCancel(t *testing.T) {
	fake := &fakeNATS{}
	bus := New(fake, nil, "pw", nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	bus.RunFinished(ctx, &scheduler.Outcome{RunID: "r1", Status: scheduler.RunCanceled})
	assert.Len(t, fake.messages, 1)
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "mono.refs_heads_main", StatusKey("mono", "refs/heads/main"))
	assert.Equal(t, "my_ws.v1_2", StatusKey("my ws", "v1.2"))
}
