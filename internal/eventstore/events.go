package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Event type names as stored in the event_type column.
const (
	TypeRunStarted      = "RunStarted"
	TypeJobTransitioned = "JobTransitioned"
	TypeRunFinished     = "RunFinished"
)

// RunStartedData is the payload of a RunStarted event.
type RunStartedData struct {
	Context  trigger.RunContext `json:"context"`
	Jobs     []string           `json:"jobs"`
	Excluded []graph.Excluded   `json:"excluded,omitempty"`
}

// RunStarted is emitted once the DAG of a run is known.
type RunStarted struct {
	BaseEvent
	Data RunStartedData
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(info scheduler.RunInfo, d *graph.DAG) (*RunStarted, error) {
	data := RunStartedData{Context: info.Context}
	if d != nil {
		data.Jobs = d.Order()
		data.Excluded = d.Excluded()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal RunStarted payload").
			WithCause(err).
			WithContext("run_id", info.ID).
			Build()
	}
	at := info.StartedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &RunStarted{
		BaseEvent: BaseEvent{
			EventRunID:     info.ID,
			EventType:      TypeRunStarted,
			EventTimestamp: at,
			EventPayload:   payload,
			EventMetadata:  map[string]string{"ref": info.Context.Ref, "kind": string(info.Context.Kind)},
		},
		Data: data,
	}, nil
}

// JobTransitioned records one job state change.
type JobTransitioned struct {
	BaseEvent
	Transition scheduler.Transition
}

// NewJobTransitioned creates a JobTransitioned event.
func NewJobTransitioned(t scheduler.Transition) (*JobTransitioned, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal JobTransitioned payload").
			WithCause(err).
			WithContext("run_id", t.RunID).
			WithContext("job", t.Job).
			Build()
	}
	return &JobTransitioned{
		BaseEvent: BaseEvent{
			EventRunID:     t.RunID,
			EventType:      TypeJobTransitioned,
			EventTimestamp: t.At,
			EventPayload:   payload,
			EventMetadata:  map[string]string{"job": t.Job, "state": string(t.To)},
		},
		Transition: t,
	}, nil
}

// RunFinished carries the archived outcome of a run.
type RunFinished struct {
	BaseEvent
	Outcome *scheduler.Outcome
}

// NewRunFinished creates a RunFinished event.
func NewRunFinished(o *scheduler.Outcome) (*RunFinished, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal RunFinished payload").
			WithCause(err).
			WithContext("run_id", o.RunID).
			Build()
	}
	return &RunFinished{
		BaseEvent: BaseEvent{
			EventRunID:     o.RunID,
			EventType:      TypeRunFinished,
			EventTimestamp: o.FinishedAt,
			EventPayload:   payload,
			EventMetadata:  map[string]string{"status": string(o.Status)},
		},
		Outcome: o,
	}, nil
}
