package models

import "database/sql"

// EpisodeOutcome records how an idle episode ended.
type EpisodeOutcome string

const (
	OutcomeOpen       EpisodeOutcome = "open"
	OutcomeCancelled  EpisodeOutcome = "cancelled"
	OutcomeExhausted  EpisodeOutcome = "exhausted"
	OutcomeSessionEnd EpisodeOutcome = "session_end"
)

// Episode is a persisted idle episode: the span from a session becoming idle
// until operator activity, budget exhaustion, or session end.
type Episode struct {
	ID           string         `db:"id" json:"id"`
	SessionID    string         `db:"session_id" json:"session_id"`
	Project      string         `db:"project" json:"project"`
	IdleAtEpoch  int64          `db:"idle_at_epoch" json:"idle_at_epoch"`
	EndedAtEpoch sql.NullInt64  `db:"ended_at_epoch" json:"ended_at_epoch,omitempty"`
	Outcome      EpisodeOutcome `db:"outcome" json:"outcome"`
}

// ReminderRecord is a persisted reminder delivery attempt.
type ReminderRecord struct {
	ID           int64  `db:"id" json:"id"`
	EpisodeID    string `db:"episode_id" json:"episode_id"`
	SessionID    string `db:"session_id" json:"session_id"`
	Attempt      int    `db:"attempt" json:"attempt"`
	Message      string `db:"message" json:"message"`
	Delivered    bool   `db:"delivered" json:"delivered"`
	FiredAtEpoch int64  `db:"fired_at_epoch" json:"fired_at_epoch"`
}
