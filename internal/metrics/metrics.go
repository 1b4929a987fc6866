// Package metrics exposes reminder counters on the OpenTelemetry metric API.
// Only the API is wired; without an SDK installed the global meter is a no-op,
// which is all a local daemon needs by default.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reminders tracks scheduler activity.
type Reminders struct {
	scheduled metric.Int64Counter
	fired     metric.Int64Counter
	cancelled metric.Int64Counter
	exhausted metric.Int64Counter
	tracked   metric.Int64UpDownCounter
}

// NewReminders creates the reminder instrument set on the global meter.
func NewReminders() (*Reminders, error) {
	meter := otel.Meter("github.com/thebtf/nudge")

	scheduled, err := meter.Int64Counter(
		"nudge.reminders.scheduled",
		metric.WithDescription("Reminder timers armed"),
		metric.WithUnit("{reminder}"),
	)
	if err != nil {
		return nil, err
	}

	fired, err := meter.Int64Counter(
		"nudge.reminders.fired",
		metric.WithDescription("Reminders dispatched"),
		metric.WithUnit("{reminder}"),
	)
	if err != nil {
		return nil, err
	}

	cancelled, err := meter.Int64Counter(
		"nudge.reminders.cancelled",
		metric.WithDescription("Reminder chains cancelled by operator activity"),
		metric.WithUnit("{episode}"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		"nudge.episodes.exhausted",
		metric.WithDescription("Episodes that ran out of reminder budget"),
		metric.WithUnit("{episode}"),
	)
	if err != nil {
		return nil, err
	}

	tracked, err := meter.Int64UpDownCounter(
		"nudge.sessions.tracked",
		metric.WithDescription("Sessions with live scheduler state"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &Reminders{
		scheduled: scheduled,
		fired:     fired,
		cancelled: cancelled,
		exhausted: exhausted,
		tracked:   tracked,
	}, nil
}

// Scheduled records a timer being armed.
func (r *Reminders) Scheduled(ctx context.Context) {
	if r == nil {
		return
	}
	r.scheduled.Add(ctx, 1)
}

// Fired records a dispatched reminder and whether delivery succeeded.
func (r *Reminders) Fired(ctx context.Context, delivered bool) {
	if r == nil {
		return
	}
	r.fired.Add(ctx, 1, metric.WithAttributes(attribute.Bool("delivered", delivered)))
}

// Cancelled records a chain cancelled by operator activity.
func (r *Reminders) Cancelled(ctx context.Context) {
	if r == nil {
		return
	}
	r.cancelled.Add(ctx, 1)
}

// Exhausted records an episode that spent its full budget.
func (r *Reminders) Exhausted(ctx context.Context) {
	if r == nil {
		return
	}
	r.exhausted.Add(ctx, 1)
}

// SessionTracked adjusts the live session gauge by delta.
func (r *Reminders) SessionTracked(ctx context.Context, delta int64) {
	if r == nil {
		return
	}
	r.tracked.Add(ctx, delta)
}
