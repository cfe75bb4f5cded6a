package eventbus

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Message types, also used as the last subject token.
const (
	TypeRunStarted  = "run.started"
	TypeJobChanged  = "job.transition"
	TypeRunFinished = "run.finished"
)

// Envelope is the JSON document published for every lifecycle event.
type Envelope struct {
	Type    string             `json:"type"`
	RunID   string             `json:"run_id"`
	Context trigger.RunContext `json:"context"`
	At      time.Time          `json:"at"`
	Data    json.RawMessage    `json:"data,omitempty"`
}

// RunStatus is the value kept in the status bucket for a workspace and ref.
type RunStatus struct {
	RunID      string              `json:"run_id"`
	Workspace  string              `json:"workspace"`
	Ref        string              `json:"ref"`
	Status     scheduler.RunStatus `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Failed     []string            `json:"failed,omitempty"`
}
