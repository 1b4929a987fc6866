// Package scheduler implements the per-session idle reminder state machine:
// when to fire a reminder, how many follow-ups to chain with exponential
// backoff, and how to cancel the whole chain the instant operator activity
// is observed.
package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/nudge/internal/messages"
	"github.com/thebtf/nudge/internal/metrics"
	"github.com/thebtf/nudge/pkg/models"
)

// Dispatcher delivers a single reminder. The scheduler does not depend on
// successful delivery to proceed: a failed attempt advances the chain exactly
// like a successful one.
type Dispatcher interface {
	Deliver(ctx context.Context, n models.Notification) models.DeliveryResult
}

// History persists episodes and delivered reminders. Failures are logged and
// never alter the state machine.
type History interface {
	StartEpisode(ctx context.Context, ep models.Episode) error
	CloseEpisode(ctx context.Context, episodeID string, outcome models.EpisodeOutcome, endedAtEpoch int64) error
	RecordReminder(ctx context.Context, rec models.ReminderRecord) error
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithHistory attaches a reminder history store.
func WithHistory(h History) Option {
	return func(s *Scheduler) { s.history = h }
}

// WithMetrics attaches reminder counters.
func WithMetrics(m *metrics.Reminders) Option {
	return func(s *Scheduler) { s.meters = m }
}

// WithEventSink attaches a callback invoked for every lifecycle event
// (used by the SSE broadcaster). The callback runs outside the scheduler
// lock and must not block for long.
func WithEventSink(fn func(models.ReminderEvent)) Option {
	return func(s *Scheduler) { s.events = fn }
}

// WithPick replaces the message selection function. Tests use a fixed pick.
func WithPick(pick func([]string) string) Option {
	return func(s *Scheduler) { s.pick = pick }
}

// reminderState is the per-session chain state. It is exclusively owned by
// the scheduler and mutated only under the scheduler lock.
type reminderState struct {
	id        models.SessionID
	project   string
	episodeID string
	status    models.ReminderStatus
	attempts  int

	// generation invalidates stale timer completions: every armed timer
	// captures the generation at arm time and declines to act when it no
	// longer matches. Cancellation bumps it unconditionally, pending timer
	// or not, which closes the race where activity arrives while a reminder
	// is mid-delivery.
	generation uint64

	timer      *time.Timer
	idleSince  time.Time
	nextFireAt time.Time

	// settings pinned at episode start; hot reload affects future episodes.
	settings Settings
}

// Scheduler owns one cancellable timer chain per session.
type Scheduler struct {
	mu       sync.Mutex
	settings Settings
	states   map[models.SessionID]*reminderState
	clock    *Clock

	dispatcher Dispatcher
	pick       func([]string) string
	rng        *rand.Rand

	history History
	events  func(models.ReminderEvent)
	meters  *metrics.Reminders

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Settings are validated here and never mid-episode.
func New(settings Settings, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		settings:   settings,
		states:     make(map[models.SessionID]*reminderState),
		clock:      NewClock(),
		dispatcher: dispatcher,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- message choice, not security
		ctx:        ctx,
		cancel:     cancel,
	}
	s.pick = func(candidates []string) string {
		return messages.Pick(s.rng, candidates)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SessionIdle starts or confirms an idle episode for the session. A duplicate
// idle event for an episode already being handled is a no-op; an idle event
// after cancellation or exhaustion starts a fresh episode with the attempt
// count reset.
func (s *Scheduler) SessionIdle(id models.SessionID, project string) {
	now := time.Now()

	s.mu.Lock()
	if s.ctx.Err() != nil || !s.settings.Enabled {
		s.mu.Unlock()
		return
	}

	st, ok := s.states[id]
	if !ok {
		st = &reminderState{id: id, status: models.StatusIdle}
		s.states[id] = st
		s.meters.SessionTracked(s.ctx, 1)
	}
	if project != "" {
		st.project = project
	}

	fresh := s.clock.MarkIdle(id, now)
	if !fresh {
		// Stale duplicate: the session is already idle, so this event
		// belongs to the current episode. For a chain in flight it must
		// not rearm the timer; for an exhausted chain it must not revive
		// it, since exhaustion is terminal until intervening activity.
		// Cancellation cannot land here: it marks the clock active.
		s.mu.Unlock()
		return
	}

	st.generation++
	s.stopTimerLocked(st)
	st.status = models.StatusScheduled
	st.attempts = 0
	st.idleSince = now
	st.episodeID = uuid.NewString()
	st.settings = s.settings
	s.armLocked(st, st.settings.backoff().Delay(0))

	ep := models.Episode{
		ID:          st.episodeID,
		SessionID:   string(id),
		Project:     st.project,
		IdleAtEpoch: now.UnixMilli(),
		Outcome:     models.OutcomeOpen,
	}
	ev := models.ReminderEvent{
		Type:      models.EventScheduled,
		SessionID: id,
		Project:   st.project,
		EpisodeID: st.episodeID,
		At:        now,
	}
	s.mu.Unlock()

	log.Debug().
		Str("sessionId", string(id)).
		Str("episodeId", ep.ID).
		Msg("Idle episode started, first reminder armed")

	s.recordStart(ep)
	s.emit(ev)
}

// Activity handles an activity event. Operator activity cancels any armed or
// in-flight reminder chain; assistant activity never does.
func (s *Scheduler) Activity(id models.SessionID, role models.ActivityRole) {
	if role != models.RoleUser {
		// The event source preserves the operator/assistant distinction;
		// automated activity must not reset the clock.
		return
	}
	now := time.Now()

	s.mu.Lock()
	s.clock.MarkActive(id, now)

	st, ok := s.states[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	// Bump unconditionally, pending timer or not: a timer that cannot be
	// physically stopped before it fires still observes the stale
	// generation and declines to act.
	st.generation++
	s.stopTimerLocked(st)

	active := st.status == models.StatusScheduled || st.status == models.StatusFiring
	var episodeID string
	if active {
		st.status = models.StatusCancelled
		st.nextFireAt = time.Time{}
		episodeID = st.episodeID
	}
	s.mu.Unlock()

	if !active {
		return
	}

	log.Debug().
		Str("sessionId", string(id)).
		Str("episodeId", episodeID).
		Msg("Reminder chain cancelled by operator activity")

	s.meters.Cancelled(s.ctx)
	s.closeEpisode(episodeID, models.OutcomeCancelled, now)
	s.emit(models.ReminderEvent{
		Type:      models.EventCancelled,
		SessionID: id,
		EpisodeID: episodeID,
		At:        now,
	})
}

// SessionEnd discards all scheduler state for the session.
func (s *Scheduler) SessionEnd(id models.SessionID) {
	now := time.Now()

	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		// Activity-only sessions still hold a clock entry.
		s.clock.Forget(id)
		s.mu.Unlock()
		return
	}

	st.generation++
	s.stopTimerLocked(st)
	open := st.status == models.StatusScheduled || st.status == models.StatusFiring
	episodeID := st.episodeID
	delete(s.states, id)
	s.clock.Forget(id)
	s.mu.Unlock()

	s.meters.SessionTracked(s.ctx, -1)
	if open {
		s.closeEpisode(episodeID, models.OutcomeSessionEnd, now)
	}
	s.emit(models.ReminderEvent{
		Type:      models.EventEnded,
		SessionID: id,
		EpisodeID: episodeID,
		At:        now,
	})
}

// fire is the timer callback for one reminder attempt, armed under gen.
func (s *Scheduler) fire(id models.SessionID, gen uint64) {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok || st.generation != gen {
		// The chain was cancelled or restarted after this timer was armed.
		s.mu.Unlock()
		return
	}

	st.status = models.StatusFiring
	st.timer = nil
	attempt := st.attempts
	idleFor := time.Since(st.idleSince)
	template := s.pick(st.settings.Messages)
	n := models.Notification{
		SessionID: id,
		Project:   st.project,
		Attempt:   attempt,
		Message:   messages.Expand(template, st.project, idleFor),
		IdleFor:   idleFor,
	}
	episodeID := st.episodeID
	s.mu.Unlock()

	// Dispatch outside the lock: TTS can take seconds and other sessions
	// must not wait on it. Staleness is re-checked before arming the next
	// timer, not before this delivery.
	res := s.dispatcher.Deliver(s.ctx, n)
	if res.Err != nil {
		log.Warn().
			Err(res.Err).
			Str("sessionId", string(id)).
			Int("attempt", attempt).
			Msg("Reminder dispatch failed, chain continues")
	}

	now := time.Now()
	s.meters.Fired(s.ctx, res.Delivered)
	s.recordReminder(models.ReminderRecord{
		EpisodeID:    episodeID,
		SessionID:    string(id),
		Attempt:      attempt,
		Message:      n.Message,
		Delivered:    res.Delivered,
		FiredAtEpoch: now.UnixMilli(),
	})
	s.emit(models.ReminderEvent{
		Type:      models.EventFired,
		SessionID: id,
		EpisodeID: episodeID,
		Attempt:   attempt,
		Message:   n.Message,
		Delivered: res.Delivered,
		At:        now,
	})

	s.mu.Lock()
	st, ok = s.states[id]
	if !ok || st.generation != gen {
		// Activity arrived while the reminder was being delivered; no
		// follow-up may be armed for this episode.
		s.mu.Unlock()
		return
	}

	st.attempts++
	if st.settings.FollowUps && st.attempts < st.settings.MaxReminders {
		st.status = models.StatusScheduled
		s.armLocked(st, st.settings.backoff().Delay(st.attempts))
		s.mu.Unlock()
		return
	}

	st.status = models.StatusExhausted
	st.nextFireAt = time.Time{}
	s.mu.Unlock()

	log.Debug().
		Str("sessionId", string(id)).
		Int("attempts", attempt+1).
		Msg("Reminder budget exhausted")

	s.meters.Exhausted(s.ctx)
	s.closeEpisode(episodeID, models.OutcomeExhausted, now)
	s.emit(models.ReminderEvent{
		Type:      models.EventExhausted,
		SessionID: id,
		EpisodeID: episodeID,
		Attempt:   attempt,
		At:        now,
	})
}

// armLocked arms the session's timer. Callers hold the scheduler lock and
// have already stopped any previous timer; at most one armed timer exists
// per session at any instant.
func (s *Scheduler) armLocked(st *reminderState, d time.Duration) {
	gen := st.generation
	id := st.id
	st.nextFireAt = time.Now().Add(d)
	st.timer = time.AfterFunc(d, func() { s.fire(id, gen) })
	s.meters.Scheduled(s.ctx)
}

func (s *Scheduler) stopTimerLocked(st *reminderState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

// UpdateSettings swaps the settings snapshot used for future episodes.
// Episodes already in flight keep the delays they were armed with.
func (s *Scheduler) UpdateSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	log.Info().Msg("Scheduler settings updated")
	return nil
}

// Snapshots returns a point-in-time view of all tracked sessions, ordered
// by session id.
func (s *Scheduler) Snapshots() []models.SessionSnapshot {
	s.mu.Lock()
	out := make([]models.SessionSnapshot, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, models.SessionSnapshot{
			SessionID:  st.id,
			Project:    st.project,
			Status:     st.status,
			Attempts:   st.attempts,
			IdleSince:  st.idleSince,
			NextFireAt: st.nextFireAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// SessionCount returns the number of sessions with live state.
func (s *Scheduler) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Shutdown stops all timers and invalidates every chain. In-flight dispatches
// observe the cancelled context and their stale generations.
func (s *Scheduler) Shutdown() {
	s.cancel()

	s.mu.Lock()
	for _, st := range s.states {
		st.generation++
		s.stopTimerLocked(st)
	}
	s.states = make(map[models.SessionID]*reminderState)
	s.mu.Unlock()
}

func (s *Scheduler) recordStart(ep models.Episode) {
	if s.history == nil {
		return
	}
	if err := s.history.StartEpisode(s.ctx, ep); err != nil {
		log.Warn().Err(err).Str("episodeId", ep.ID).Msg("Failed to persist episode start")
	}
}

func (s *Scheduler) closeEpisode(episodeID string, outcome models.EpisodeOutcome, endedAt time.Time) {
	if s.history == nil || episodeID == "" {
		return
	}
	if err := s.history.CloseEpisode(s.ctx, episodeID, outcome, endedAt.UnixMilli()); err != nil {
		log.Warn().Err(err).Str("episodeId", episodeID).Msg("Failed to persist episode close")
	}
}

func (s *Scheduler) recordReminder(rec models.ReminderRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordReminder(s.ctx, rec); err != nil {
		log.Warn().Err(err).Str("episodeId", rec.EpisodeID).Msg("Failed to persist reminder")
	}
}

func (s *Scheduler) emit(ev models.ReminderEvent) {
	if s.events != nil {
		s.events(ev)
	}
}
