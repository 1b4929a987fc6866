package scheduler

import (
	"time"

	"github.com/thebtf/nudge/pkg/models"
)

// Clock tracks, per session, the timestamp of the last relevant event. Pure
// bookkeeping: no timers, no side effects. It is mutated only inside the
// scheduler's per-event critical section, so it carries no lock of its own.
type Clock struct {
	entries map[models.SessionID]clockEntry
}

type clockEntry struct {
	idle       bool
	idleSince  time.Time
	lastActive time.Time
}

// NewClock creates an empty activity clock.
func NewClock() *Clock {
	return &Clock{entries: make(map[models.SessionID]clockEntry)}
}

// MarkIdle records that a session entered idle at t. It returns true when
// this begins a new idle episode (the session was previously active or
// unknown) and false for a duplicate of an idle state already recorded.
func (c *Clock) MarkIdle(id models.SessionID, t time.Time) bool {
	e, ok := c.entries[id]
	if ok && e.idle {
		return false
	}
	e.idle = true
	e.idleSince = t
	c.entries[id] = e
	return true
}

// MarkActive records activity for a session at t, ending any idle span.
func (c *Clock) MarkActive(id models.SessionID, t time.Time) {
	e := c.entries[id]
	e.idle = false
	e.lastActive = t
	c.entries[id] = e
}

// Get returns the timestamp of the session's last relevant event: the idle
// entry time while idle, the last activity otherwise. The second return is
// false for unknown sessions.
func (c *Clock) Get(id models.SessionID) (time.Time, bool) {
	e, ok := c.entries[id]
	if !ok {
		return time.Time{}, false
	}
	if e.idle {
		return e.idleSince, true
	}
	return e.lastActive, true
}

// IdleSince returns when the session entered idle, or false if it is not
// currently idle.
func (c *Clock) IdleSince(id models.SessionID) (time.Time, bool) {
	e, ok := c.entries[id]
	if !ok || !e.idle {
		return time.Time{}, false
	}
	return e.idleSince, true
}

// Forget discards all bookkeeping for a session.
func (c *Clock) Forget(id models.SessionID) {
	delete(c.entries, id)
}

// Len returns the number of tracked sessions.
func (c *Clock) Len() int {
	return len(c.entries)
}
