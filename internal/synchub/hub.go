// Package synchub fans out batch events to connected observers.
//
// Observers subscribe to groups (batches). Publish delivers an event to every
// current subscriber of a group; each observer sees a group's events in the
// order they were published. Delivery is a non-blocking enqueue into the
// observer's own queue, so a slow observer never holds up the others. An
// observer that cannot accept a message is considered gone and is pruned on
// the next publish. Nothing is queued or replayed for disconnected observers;
// they reconnect, resubscribe and refetch state from the store.
package synchub

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrSubscriptionNotFound is returned by Unsubscribe for an absent
// subscription. Callers treat it as a no-op.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Observer receives events. Deliver must not block; a non-nil error means
// the observer is disconnected.
type Observer interface {
	ID() string
	Deliver(Message) error
}

type group struct {
	// publishMu orders publishes within the group.
	publishMu sync.Mutex
	members   map[string]Observer
}

// Hub tracks subscriptions per group. The zero value is not usable; create
// one with NewHub.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]*group

	logger *slog.Logger
}

// NewHub returns an empty hub. A nil logger uses slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups: make(map[int64]*group),
		logger: logger,
	}
}

// Subscribe adds obs to groupID. It reports whether a new subscription was
// created; subscribing twice is a no-op.
func (h *Hub) Subscribe(obs Observer, groupID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[groupID]
	if !ok {
		g = &group{members: make(map[string]Observer)}
		h.groups[groupID] = g
	}
	if _, exists := g.members[obs.ID()]; exists {
		return false
	}
	g.members[obs.ID()] = obs

	h.logger.Debug("observer subscribed", "observer", obs.ID(), "group", groupID, "subscribers", len(g.members))
	return true
}

// Unsubscribe removes obs from groupID. Messages already handed to the
// observer are not recalled.
func (h *Hub) Unsubscribe(obs Observer, groupID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[groupID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if _, exists := g.members[obs.ID()]; !exists {
		return ErrSubscriptionNotFound
	}

	h.removeLocked(groupID, g, obs.ID())
	h.logger.Debug("observer unsubscribed", "observer", obs.ID(), "group", groupID)
	return nil
}

// Disconnect removes obs from every group and returns how many
// subscriptions it held.
func (h *Hub) Disconnect(obs Observer) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.dropLocked(obs.ID())
}

// lockGroup returns groupID's group with its publish lock held, plus a
// copy of its members. The group may be dropped and recreated while we wait
// for the lock, so the lookup is repeated until the locked group is still
// the registered one. It returns nil when nobody watches groupID.
func (h *Hub) lockGroup(groupID int64) (*group, []Observer) {
	for {
		h.mu.RLock()
		g, ok := h.groups[groupID]
		h.mu.RUnlock()
		if !ok {
			return nil, nil
		}

		g.publishMu.Lock()

		h.mu.RLock()
		if h.groups[groupID] != g {
			h.mu.RUnlock()
			g.publishMu.Unlock()
			continue
		}
		members := make([]Observer, 0, len(g.members))
		for _, obs := range g.members {
			members = append(members, obs)
		}
		h.mu.RUnlock()
		return g, members
	}
}

// Publish delivers m to every subscriber of groupID and returns the number
// of successful deliveries. Observers that fail delivery are removed from
// all groups. Publishing to a group nobody watches does nothing.
func (h *Hub) Publish(groupID int64, m Message) int {
	g, members := h.lockGroup(groupID)
	if g == nil {
		return 0
	}
	defer g.publishMu.Unlock()

	delivered := 0
	var dead []string
	for _, obs := range members {
		if err := obs.Deliver(m); err != nil {
			dead = append(dead, obs.ID())
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, id := range dead {
			h.dropLocked(id)
		}
		h.mu.Unlock()
		h.logger.Debug("pruned dead observers", "group", groupID, "count", len(dead))
	}

	return delivered
}

// Subscribers returns the number of observers subscribed to groupID.
func (h *Hub) Subscribers(groupID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if g, ok := h.groups[groupID]; ok {
		return len(g.members)
	}
	return 0
}

// Groups returns the number of groups with at least one subscriber.
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

func (h *Hub) dropLocked(observerID string) int {
	n := 0
	for id, g := range h.groups {
		if _, ok := g.members[observerID]; ok {
			h.removeLocked(id, g, observerID)
			n++
		}
	}
	return n
}

// removeLocked deletes a membership and drops the group once empty.
func (h *Hub) removeLocked(groupID int64, g *group, observerID string) {
	delete(g.members, observerID)
	if len(g.members) == 0 {
		delete(h.groups, groupID)
	}
}

// Handle applies an inbound observer message and returns the reply.
func (h *Hub) Handle(obs Observer, m Message) Message {
	switch m.Type {
	case TypeSubscribe:
		h.Subscribe(obs, m.Group)
		return Message{Type: TypeSubscribed, Group: m.Group}
	case TypeUnsubscribe:
		if err := h.Unsubscribe(obs, m.Group); err != nil {
			h.logger.Debug("unsubscribe ignored", "observer", obs.ID(), "group", m.Group, "error", err)
		}
		return Message{Type: TypeUnsubscribed, Group: m.Group}
	case TypePing:
		return Message{Type: TypePong}
	default:
		return ErrorMessage("unknown message type: " + m.Type)
	}
}
