package manifest

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

// Problem is one validation failure, naming the job it concerns when there is one.
type Problem struct {
	Job     string `json:"job,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Job == "" {
		return p.Message
	}
	return fmt.Sprintf("job %q: %s", p.Job, p.Message)
}

// ValidationError collects every problem found in a manifest.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}

type problems struct {
	list []Problem
}

func (p *problems) addf(job, format string, args ...any) {
	p.list = append(p.list, Problem{Job: job, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) err() error {
	if len(p.list) == 0 {
		return nil
	}
	return errors.ValidationError("manifest is invalid").
		WithCause(&ValidationError{Problems: p.list}).
		WithContext("problems", len(p.list)).
		Build()
}
