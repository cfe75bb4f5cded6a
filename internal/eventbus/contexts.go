package eventbus

import (
	"sync"

	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

type contextTable struct {
	mu   sync.Mutex
	runs map[string]trigger.RunContext
}

func newContextTable() *contextTable {
	return &contextTable{runs: make(map[string]trigger.RunContext)}
}

func (t *contextTable) put(id string, rc trigger.RunContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = rc
}

func (t *contextTable) get(id string) (trigger.RunContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.runs[id]
	return rc, ok
}

func (t *contextTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, id)
}
