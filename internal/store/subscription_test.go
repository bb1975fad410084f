package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionManager_RoutingTable(t *testing.T) {
	m := NewSubscriptionManager()

	m.Register("global-conn")

	m.Register("session-conn")
	m.SetScope("session-conn", ScopeSession)
	m.Subscribe("session-conn", "s1")

	m.Register("observer-conn")
	m.SetScope("observer-conn", ScopeObserver)

	m.Register("fleet-conn")
	m.FleetSubscribe("fleet-conn", 0)

	// lifecycle reaches everyone regardless of scope/subscription.
	recipients := m.Recipients(CategoryLifecycle, "")
	assert.ElementsMatch(t, []ConnID{"global-conn", "session-conn", "observer-conn", "fleet-conn"}, recipients)

	// session(sid) reaches global always, session only if subscribed, never observer.
	recipients = m.Recipients(CategorySession, "s1")
	assert.ElementsMatch(t, []ConnID{"global-conn", "session-conn", "fleet-conn"}, recipients)

	recipients = m.Recipients(CategorySession, "other-session")
	assert.ElementsMatch(t, []ConnID{"global-conn", "fleet-conn"}, recipients)

	// commander reaches global and session scopes, never observer.
	recipients = m.Recipients(CategoryCommander, "")
	assert.ElementsMatch(t, []ConnID{"global-conn", "session-conn", "fleet-conn"}, recipients)

	// fleet reaches only fleet-subscribed connections of any scope.
	recipients = m.Recipients(CategoryFleet, "")
	assert.ElementsMatch(t, []ConnID{"fleet-conn"}, recipients)

	// direct is never routed by category.
	recipients = m.Recipients(CategoryDirect, "")
	assert.Empty(t, recipients)
}

func TestSubscriptionManager_UnregisterRemovesFromAllCategories(t *testing.T) {
	m := NewSubscriptionManager()
	m.Register("c1")
	m.Unregister("c1")

	assert.Empty(t, m.Recipients(CategoryLifecycle, ""))
}
