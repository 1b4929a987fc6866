package scheduler

import (
	"fmt"
	"math"
	"time"
)

// Backoff computes the delay before reminder k of an episode. Reminder 0
// fires Initial after idle entry; reminder k fires Initial * Multiplier^k
// after reminder k-1.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
}

// Delay returns the delay before reminder attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.Initial
	}
	return time.Duration(float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt)))
}

// Settings is the scheduler's configuration snapshot. Each episode pins the
// snapshot that was current when it started, so a hot reload only affects
// future episodes.
type Settings struct {
	// Enabled is the master switch; when false, sessionIdle events are
	// ignored entirely.
	Enabled bool

	// InitialDelay is the effective delay before the first reminder.
	InitialDelay time.Duration

	// BackoffMultiplier is the growth factor between follow-ups.
	BackoffMultiplier float64

	// MaxReminders is the total attempt budget per episode. The initial
	// reminder consumes one unit, so 1 means exactly one reminder with no
	// escalation.
	MaxReminders int

	// FollowUps gates everything after the first reminder.
	FollowUps bool

	// Messages is the candidate template pool for random selection.
	Messages []string
}

// Validate fails fast on values that would corrupt the state machine.
func (s Settings) Validate() error {
	if s.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %v", s.InitialDelay)
	}
	if s.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", s.BackoffMultiplier)
	}
	if s.MaxReminders < 1 {
		return fmt.Errorf("max reminders must be >= 1, got %d", s.MaxReminders)
	}
	if len(s.Messages) == 0 {
		return fmt.Errorf("message pool must not be empty")
	}
	return nil
}

func (s Settings) backoff() Backoff {
	return Backoff{Initial: s.InitialDelay, Multiplier: s.BackoffMultiplier}
}
