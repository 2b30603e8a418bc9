package services

import (
	"sync"
	"time"

	"github.com/modulab/foreman/internal/foreman"
)

// ExecutionTracker owns the table of dispatched execute commands still
// waiting for a result. It is shared by the session hub (clearing on
// result arrival) and the scheduler and watchdogs (recording and sweeping),
// so every operation takes the single mutex. Nothing here is persisted; a
// restart drops all pending records.
type ExecutionTracker struct {
	mu      sync.Mutex
	pending map[string]*foreman.PendingExecution
}

func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{pending: make(map[string]*foreman.PendingExecution)}
}

// Record stores a pending execution keyed by its execution id.
func (t *ExecutionTracker) Record(p *foreman.PendingExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := *p
	t.pending[p.ExecutionID] = &c
}

// Clear removes and returns the pending execution for executionID, or nil
// when absent. Idempotent.
func (t *ExecutionTracker) Clear(executionID string) *foreman.PendingExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[executionID]
	if !ok {
		return nil
	}
	delete(t.pending, executionID)
	return p
}

// Sweep removes and returns every entry whose sent_time is before
// now - timeout.
func (t *ExecutionTracker) Sweep(now time.Time, timeout time.Duration) []*foreman.PendingExecution {
	threshold := now.Add(-timeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*foreman.PendingExecution
	for id, p := range t.pending {
		if p.SentTime.Before(threshold) {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	return expired
}

// Len returns the number of outstanding executions.
func (t *ExecutionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Pending returns a snapshot of the outstanding executions.
func (t *ExecutionTracker) Pending() []*foreman.PendingExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*foreman.PendingExecution, 0, len(t.pending))
	for _, p := range t.pending {
		c := *p
		out = append(out, &c)
	}
	return out
}
