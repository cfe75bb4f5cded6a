package trigger

import (
	"fmt"

	"git.home.luguber.info/inful/pipewright/internal/foundation/normalization"
)

// Kind is the kind of event that created a run.
type Kind string

const (
	KindBranch   Kind = "branch"
	KindTag      Kind = "tag"
	KindSchedule Kind = "schedule"
	KindManual   Kind = "manual"
)

var kindNormalizer = normalization.NewNormalizer(map[string]Kind{
	"branch":   KindBranch,
	"tag":      KindTag,
	"schedule": KindSchedule,
	"manual":   KindManual,
}, KindBranch)

// ParseKind parses a run kind; empty input means branch.
func ParseKind(raw string) (Kind, error) {
	k, err := kindNormalizer.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("run kind: %w", err)
	}
	return k, nil
}

// RunContext is what a run was created for. It is immutable once a run starts.
type RunContext struct {
	Workspace string            `json:"workspace"`
	Ref       string            `json:"ref"`
	Kind      Kind              `json:"kind"`
	Source    string            `json:"source,omitempty"` // push, schedule, api, web, ...
	Commit    string            `json:"commit,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Key identifies the run lineage used for supersede decisions.
func (rc RunContext) Key() string {
	return rc.Workspace + "@" + rc.Ref
}

func (rc RunContext) String() string {
	return fmt.Sprintf("%s %s %s", rc.Workspace, rc.Kind, rc.Ref)
}
