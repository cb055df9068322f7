package synchub

import (
	"sync"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// Tracker turns progress updates into progress-changed and group-complete
// events. group-complete fires once per transition from incomplete to
// complete; a group that drops back below complete can fire again.
type Tracker struct {
	hub *Hub

	mu       sync.Mutex
	complete map[int64]bool
}

// NewTracker publishes through hub.
func NewTracker(hub *Hub) *Tracker {
	return &Tracker{hub: hub, complete: make(map[int64]bool)}
}

// Seed records the current state of a group without publishing. Used at
// startup and after import so an already-complete group does not announce
// itself again.
func (t *Tracker) Seed(p model.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.complete[p.BatchID] = p.Complete()
}

// Report publishes p and, on a transition to complete, group-complete.
// It reports whether the transition happened. Callers with concurrent
// writers should use Refresh so snapshots cannot arrive out of order.
func (t *Tracker) Report(p model.Progress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report(p)
}

// Refresh calls load under the tracker lock and reports the progress it
// returns. load must read the current state of groupID from the source of
// truth, so concurrent refreshes of one group publish in store order.
func (t *Tracker) Refresh(groupID int64, load func() (model.Progress, error)) (model.Progress, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := load()
	if err != nil {
		return model.Progress{}, false, err
	}
	p.BatchID = groupID
	return p, t.report(p), nil
}

func (t *Tracker) report(p model.Progress) bool {
	t.hub.Publish(p.BatchID, ProgressChanged(p))

	was := t.complete[p.BatchID]
	now := p.Complete()
	t.complete[p.BatchID] = now
	if now && !was {
		t.hub.Publish(p.BatchID, GroupComplete(p.BatchID))
		return true
	}
	return false
}

// Forget drops state for a deleted group.
func (t *Tracker) Forget(groupID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.complete, groupID)
}
