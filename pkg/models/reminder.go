// Package models contains domain models for nudge.
package models

import "time"

// SessionID is the opaque Claude Code session identifier. It keys all
// scheduler state.
type SessionID string

// ReminderStatus represents the state of a session's reminder chain.
type ReminderStatus string

const (
	StatusIdle      ReminderStatus = "idle"
	StatusScheduled ReminderStatus = "scheduled"
	StatusFiring    ReminderStatus = "firing"
	StatusCancelled ReminderStatus = "cancelled"
	StatusExhausted ReminderStatus = "exhausted"
)

// ActivityRole identifies who produced an activity event. Only operator
// activity cancels a reminder chain; assistant activity is bookkeeping.
type ActivityRole string

const (
	RoleUser      ActivityRole = "user"
	RoleAssistant ActivityRole = "assistant"
)

// Notification is the payload handed to the dispatcher for one attempt.
type Notification struct {
	SessionID SessionID     `json:"sessionId"`
	Project   string        `json:"project"`
	Attempt   int           `json:"attempt"`
	Message   string        `json:"message"`
	IdleFor   time.Duration `json:"idleFor"`
}

// DeliveryResult reports the outcome of a single dispatch attempt.
// The scheduler advances the chain regardless of the outcome.
type DeliveryResult struct {
	Delivered bool  `json:"delivered"`
	Err       error `json:"-"`
}

// Reminder event types broadcast over SSE.
const (
	EventScheduled = "scheduled"
	EventFired     = "fired"
	EventCancelled = "cancelled"
	EventExhausted = "exhausted"
	EventEnded     = "ended"
)

// ReminderEvent is a scheduler lifecycle event broadcast to SSE clients.
type ReminderEvent struct {
	Type      string    `json:"type"`
	SessionID SessionID `json:"sessionId"`
	Project   string    `json:"project,omitempty"`
	EpisodeID string    `json:"episodeId,omitempty"`
	Attempt   int       `json:"attempt"`
	Message   string    `json:"message,omitempty"`
	Delivered bool      `json:"delivered,omitempty"`
	At        time.Time `json:"at"`
}

// SessionSnapshot is a point-in-time view of one session's reminder state,
// served by the worker API and rendered by the statusline.
type SessionSnapshot struct {
	SessionID  SessionID      `json:"sessionId"`
	Project    string         `json:"project,omitempty"`
	Status     ReminderStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	IdleSince  time.Time      `json:"idleSince,omitempty"`
	NextFireAt time.Time      `json:"nextFireAt,omitempty"`
}
