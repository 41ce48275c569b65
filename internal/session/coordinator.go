// Package session owns session identity across the pending → resolved
// boundary: the registry of in-flight turns, the optimistic pending
// session slot shown by list views, the pending→real id mapping, and a
// single-use handoff cache of finalized messages.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weftlabs/weft/internal/transcript"
)

// RefreshPublisher receives a payloadless notification whenever derived
// session state changed and list views should reload.
type RefreshPublisher interface {
	Publish()
}

// PendingSession is the optimistic descriptor a session list shows while
// the real id is unknown. At most one exists at a time.
type PendingSession struct {
	ID                PendingID
	Title             string
	OrchestrationType string
	SelectedAgents    []string
	CreatedAt         time.Time
}

// Coordinator is the process-lifetime broker for session identity. All
// mutations of the pending slot, registry, mapping and cache funnel
// through its methods; views never touch the state directly. One
// instance is constructed per application process and injected into the
// turn orchestrator and views.
type Coordinator struct {
	refresh RefreshPublisher

	mu       sync.Mutex
	active   map[PendingID]struct{}
	resolved map[PendingID]string
	cache    map[string][]transcript.Message
	slot     *PendingSession
}

// NewCoordinator creates a Coordinator publishing refreshes to refresh.
func NewCoordinator(refresh RefreshPublisher) *Coordinator {
	return &Coordinator{
		refresh:  refresh,
		active:   make(map[PendingID]struct{}),
		resolved: make(map[PendingID]string),
		cache:    make(map[string][]transcript.Message),
	}
}

// RegisterPending marks a pending id as having a turn in flight, making
// later Resolve calls for it meaningful. Registering an already-active
// id is idempotent.
func (c *Coordinator) RegisterPending(id PendingID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[id]; ok {
		log.Warn().Str("pending_id", id.String()).Msg("session: pending id registered twice")
		return
	}
	c.active[id] = struct{}{}
}

// SetPendingSlot publishes the optimistic session descriptor. The slot
// holds at most one entry; a newer turn replaces the previous one.
func (c *Coordinator) SetPendingSlot(ps PendingSession) {
	c.mu.Lock()
	c.slot = &ps
	c.mu.Unlock()

	c.refresh.Publish()
}

// PendingSlot returns the current optimistic descriptor, if any.
func (c *Coordinator) PendingSlot() (PendingSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return PendingSession{}, false
	}
	return *c.slot, true
}

// Resolve binds a pending id to its server-assigned real id. The call is
// a no-op for ids that were never registered or were already resolved —
// this guards against late notifications from cancelled or duplicated
// turns. Otherwise, in one state transition it removes the registry
// entry, records the mapping, stores msgs (when non-empty) for a
// single-use handoff, clears the pending slot if this turn owns it, and
// publishes exactly one refresh. A repeated Resolve for the same id does
// not re-publish.
func (c *Coordinator) Resolve(id PendingID, realID string, msgs []transcript.Message) {
	c.mu.Lock()

	if _, ok := c.active[id]; !ok {
		c.mu.Unlock()
		log.Debug().Str("pending_id", id.String()).Str("real_id", realID).Msg("session: ignoring stale resolution")
		return
	}

	delete(c.active, id)
	c.resolved[id] = realID
	if len(msgs) > 0 {
		c.cache[realID] = msgs
	}
	if c.slot != nil && c.slot.ID == id {
		c.slot = nil
	}

	c.mu.Unlock()

	log.Info().Str("pending_id", id.String()).Str("session_id", realID).Msg("session: pending id resolved")
	c.refresh.Publish()
}

// Lookup returns the real id a pending id resolved to. Absence means
// "not yet known", not an error.
func (c *Coordinator) Lookup(id PendingID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	realID, ok := c.resolved[id]
	return realID, ok
}

// TakeCachedMessages returns the finalized messages cached for a newly
// resolved session and removes them: the cache is a single-use handoff
// so a view navigating to the new id renders without a refetch.
func (c *Coordinator) TakeCachedMessages(realID string) ([]transcript.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.cache[realID]
	if ok {
		delete(c.cache, realID)
	}
	return msgs, ok
}

// Unregister drops a pending id from the registry without resolving it,
// clearing the pending slot if owned. Used on explicit cancel and on
// terminal turn failure, where no done event will arrive. Publishes a
// refresh when the slot was cleared so list views drop the optimistic
// entry.
func (c *Coordinator) Unregister(id PendingID) {
	c.mu.Lock()

	_, wasActive := c.active[id]
	delete(c.active, id)

	clearedSlot := c.slot != nil && c.slot.ID == id
	if clearedSlot {
		c.slot = nil
	}

	c.mu.Unlock()

	if wasActive {
		log.Debug().Str("pending_id", id.String()).Msg("session: pending id unregistered")
	}
	if clearedSlot {
		c.refresh.Publish()
	}
}
