package store

import "sync"

// Scope is a connection's subscription breadth.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeSession  Scope = "session"
	ScopeObserver Scope = "observer"
)

// Category classifies an outbound message for routing purposes.
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategorySession    Category = "session"
	CategoryCommander  Category = "commander"
	CategoryFleet      Category = "fleet"
	CategoryDirect     Category = "direct"
)

// ConnID identifies one Gateway connection to the Subscription Manager.
type ConnID string

// connState is the Subscription Manager's per-connection bookkeeping.
type connState struct {
	scope          Scope
	sessionSubs    map[string]struct{}
	fleetSubscribed bool
	fleetCursor    int64
}

// SubscriptionManager routes outbound categories to the set of
// connections that should receive them, per the scope x category
// routing table in the component design.
type SubscriptionManager struct {
	mu    sync.Mutex
	conns map[ConnID]*connState
}

// NewSubscriptionManager creates an empty SubscriptionManager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{conns: make(map[ConnID]*connState)}
}

// Register adds a connection with default scope "global" and no fleet
// subscription.
func (m *SubscriptionManager) Register(id ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[id] = &connState{scope: ScopeGlobal, sessionSubs: make(map[string]struct{})}
}

// Unregister drops a connection's subscription state.
func (m *SubscriptionManager) Unregister(id ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// SetScope changes a connection's scope.
func (m *SubscriptionManager) SetScope(id ConnID, scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.scope = scope
	}
}

// Subscribe adds sessionID to a connection's session subscriptions.
func (m *SubscriptionManager) Subscribe(id ConnID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.sessionSubs[sessionID] = struct{}{}
	}
}

// Unsubscribe removes sessionID from a connection's session subscriptions.
func (m *SubscriptionManager) Unsubscribe(id ConnID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		delete(c.sessionSubs, sessionID)
	}
}

// FleetSubscribe marks a connection as subscribed to fleet events from
// the given cursor onward.
func (m *SubscriptionManager) FleetSubscribe(id ConnID, fromCursor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.fleetSubscribed = true
		c.fleetCursor = fromCursor
	}
}

// Recipients returns the connection ids that should receive a message in
// category for the given sessionID (ignored for categories that aren't
// session-scoped), per the routing table:
//
//	lifecycle: global, session, observer all receive it
//	session(sid): global always; session only if subscribed to sid; observer never
//	commander: global and session receive it; observer never
//	fleet: only connections with fleetSubscribed=true, any scope
//	direct: never returned here — routed by explicit target instead
func (m *SubscriptionManager) Recipients(cat Category, sessionID string) []ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ConnID
	for id, c := range m.conns {
		if recipientMatches(c, cat, sessionID) {
			out = append(out, id)
		}
	}
	return out
}

func recipientMatches(c *connState, cat Category, sessionID string) bool {
	switch cat {
	case CategoryLifecycle:
		return true
	case CategorySession:
		if c.scope == ScopeObserver {
			return false
		}
		if c.scope == ScopeGlobal {
			return true
		}
		_, subscribed := c.sessionSubs[sessionID]
		return subscribed
	case CategoryCommander:
		return c.scope != ScopeObserver
	case CategoryFleet:
		return c.fleetSubscribed
	case CategoryDirect:
		return false
	default:
		return false
	}
}
