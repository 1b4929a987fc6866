package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/nudge/pkg/models"
)

// fakeDispatcher records every delivery and optionally blocks until released.
type fakeDispatcher struct {
	mu     sync.Mutex
	fired  []models.Notification
	times  []time.Time
	result models.DeliveryResult
	block  chan struct{} // when non-nil, Deliver waits for close
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{result: models.DeliveryResult{Delivered: true}}
}

func (d *fakeDispatcher) Deliver(_ context.Context, n models.Notification) models.DeliveryResult {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.fired = append(d.fired, n)
	d.times = append(d.times, time.Now())
	d.mu.Unlock()
	return d.result
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

func (d *fakeDispatcher) notifications() []models.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Notification, len(d.fired))
	copy(out, d.fired)
	return out
}

func (d *fakeDispatcher) fireTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.times))
	copy(out, d.times)
	return out
}

// waitForCount polls until the dispatcher has fired n times or the deadline
// passes.
func (d *fakeDispatcher) waitForCount(n int, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if d.count() >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return d.count() >= n
}

func testSettings(initial time.Duration, multiplier float64, maxReminders int, followUps bool) Settings {
	return Settings{
		Enabled:           true,
		InitialDelay:      initial,
		BackoffMultiplier: multiplier,
		MaxReminders:      maxReminders,
		FollowUps:         followUps,
		Messages:          []string{"session {project} idle for {minutes} minutes"},
	}
}

func newTestScheduler(t *testing.T, settings Settings, d Dispatcher, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(settings, d, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

// TestSingleFire verifies that with follow-ups disabled exactly one reminder
// fires per idle episode, after the initial delay.
func TestSingleFire(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(50*time.Millisecond, 2, 3, false), d)

	start := time.Now()
	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(1, time.Second))

	// Timers never fire early.
	assert.GreaterOrEqual(t, d.fireTimes()[0].Sub(start), 50*time.Millisecond)

	// No second reminder ever, even after the would-be follow-up delay.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, d.count())

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, models.StatusExhausted, snaps[0].Status)
}

// TestBackoffSequence is the literal scenario: initial 100ms, multiplier 2,
// budget 2 ⇒ reminder #1 at ~0.1s, reminder #2 at ~0.3s, no reminder #3.
func TestBackoffSequence(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(100*time.Millisecond, 2, 2, true), d)

	start := time.Now()
	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(2, 2*time.Second))
	times := d.fireTimes()

	assert.GreaterOrEqual(t, times[0].Sub(start), 100*time.Millisecond)
	// Second fire comes initial*multiplier after the first.
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 200*time.Millisecond)

	// Budget of 2 means no third reminder regardless of elapsed time.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 2, d.count())

	notifs := d.notifications()
	assert.Equal(t, 0, notifs[0].Attempt)
	assert.Equal(t, 1, notifs[1].Attempt)
}

// TestBudgetCap verifies at most N reminders fire per episode.
func TestBudgetCap(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 1, 3, true), d)

	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(3, 2*time.Second))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 3, d.count())

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, models.StatusExhausted, snaps[0].Status)
	assert.Equal(t, 3, snaps[0].Attempts)
}

// TestBudgetOfOne: maxReminders=1 means exactly one reminder total even with
// follow-ups enabled. The initial reminder consumes one unit of the budget.
func TestBudgetOfOne(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 2, 1, true), d)

	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(1, time.Second))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

// TestPreFireCancellation: operator activity strictly before the initial
// delay elapses results in zero reminders for the episode.
func TestPreFireCancellation(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(150*time.Millisecond, 2, 3, true), d)

	s.SessionIdle("sess-1", "proj")
	time.Sleep(30 * time.Millisecond)
	s.Activity("sess-1", models.RoleUser)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 0, d.count())

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, models.StatusCancelled, snaps[0].Status)
}

// TestMidChainCancellation is the literal scenario: activity injected after
// reminder #1 but before reminder #2 ⇒ exactly one reminder total.
func TestMidChainCancellation(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(100*time.Millisecond, 2, 2, true), d)

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(1, time.Second))

	// After #1 (t≈100ms), before #2 (t≈300ms).
	s.Activity("sess-1", models.RoleUser)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

// TestCancellationDuringDispatch covers the race where activity arrives while
// a reminder is mid-delivery: the fired reminder stands, but no follow-up may
// be armed.
func TestCancellationDuringDispatch(t *testing.T) {
	d := newFakeDispatcher()
	d.block = make(chan struct{})
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 2, 3, true), d)

	s.SessionIdle("sess-1", "proj")

	// Give the timer time to fire into the blocked dispatcher.
	time.Sleep(80 * time.Millisecond)
	s.Activity("sess-1", models.RoleUser)
	close(d.block)

	require.True(t, d.waitForCount(1, time.Second))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

// TestReIdleAfterCancel: a new sessionIdle after a cancelled episode starts a
// fresh episode with the attempt count reset.
func TestReIdleAfterCancel(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(30*time.Millisecond, 2, 2, true), d)

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(1, time.Second))
	s.Activity("sess-1", models.RoleUser)

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(2, time.Second))

	notifs := d.notifications()
	assert.Equal(t, 0, notifs[0].Attempt)
	assert.Equal(t, 0, notifs[1].Attempt, "fresh episode restarts at attempt 0")
}

// TestReIdleAfterExhaustion: exhaustion is terminal for the episode but a new
// idle event after intervening activity starts over.
func TestReIdleAfterExhaustion(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 1, 2, true), d)

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(2, time.Second))

	s.Activity("sess-1", models.RoleUser)
	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(3, time.Second))

	assert.Equal(t, 0, d.notifications()[2].Attempt)
}

// TestDuplicateIdleAfterExhaustion: exhaustion is terminal for the idle
// episode; a repeated sessionIdle with no intervening activity must not
// revive the chain.
func TestDuplicateIdleAfterExhaustion(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 1, 1, true), d)

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(1, time.Second))

	s.SessionIdle("sess-1", "proj")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.count())

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, models.StatusExhausted, snaps[0].Status)

	// Intervening activity unlocks a fresh episode.
	s.Activity("sess-1", models.RoleUser)
	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(2, time.Second))
}

// TestDuplicateIdleIsNoOp: a second sessionIdle for an episode already being
// handled neither restarts the timer nor doubles the chain.
func TestDuplicateIdleIsNoOp(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(60*time.Millisecond, 2, 1, true), d)

	s.SessionIdle("sess-1", "proj")
	time.Sleep(20 * time.Millisecond)
	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(1, time.Second))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

// TestAssistantActivityDoesNotCancel: only operator activity resets the
// chain; automated activity is ignored.
func TestAssistantActivityDoesNotCancel(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(60*time.Millisecond, 2, 1, true), d)

	s.SessionIdle("sess-1", "proj")
	time.Sleep(20 * time.Millisecond)
	s.Activity("sess-1", models.RoleAssistant)

	require.True(t, d.waitForCount(1, time.Second))
}

// TestDispatchFailureAdvancesChain: a failed delivery schedules the next
// follow-up exactly as a success would.
func TestDispatchFailureAdvancesChain(t *testing.T) {
	d := newFakeDispatcher()
	d.result = models.DeliveryResult{Delivered: false, Err: assert.AnError}
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 1, 3, true), d)

	s.SessionIdle("sess-1", "proj")

	require.True(t, d.waitForCount(3, 2*time.Second))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, d.count())
}

// TestSessionEndDiscardsState: sessionEnd drops all state and stops pending
// timers.
func TestSessionEndDiscardsState(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(80*time.Millisecond, 2, 3, true), d)

	s.SessionIdle("sess-1", "proj")
	s.SessionEnd("sess-1")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 0, d.count())
	assert.Equal(t, 0, s.SessionCount())
}

// TestSessionEndForgetsActivityOnlyClock: a session that only ever reported
// activity leaves no clock bookkeeping behind after sessionEnd.
func TestSessionEndForgetsActivityOnlyClock(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(time.Hour, 2, 3, true), d)

	s.Activity("sess-1", models.RoleUser)
	s.SessionEnd("sess-1")

	assert.Equal(t, 0, s.clock.Len())
	assert.Equal(t, 0, s.SessionCount())
}

// TestSessionsIndependent: cancelling one session never affects another.
func TestSessionsIndependent(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(60*time.Millisecond, 2, 1, true), d)

	s.SessionIdle("sess-1", "proj-a")
	s.SessionIdle("sess-2", "proj-b")
	s.Activity("sess-1", models.RoleUser)

	require.True(t, d.waitForCount(1, time.Second))
	time.Sleep(150 * time.Millisecond)

	notifs := d.notifications()
	require.Len(t, notifs, 1)
	assert.Equal(t, models.SessionID("sess-2"), notifs[0].SessionID)
}

// TestDisabledScheduler: the master switch drops idle events entirely.
func TestDisabledScheduler(t *testing.T) {
	settings := testSettings(20*time.Millisecond, 2, 3, true)
	settings.Enabled = false

	d := newFakeDispatcher()
	s := newTestScheduler(t, settings, d)

	s.SessionIdle("sess-1", "proj")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, d.count())
	assert.Equal(t, 0, s.SessionCount())
}

// TestMessageExpansion: the dispatched message has placeholders expanded.
func TestMessageExpansion(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(20*time.Millisecond, 2, 1, false), d)

	s.SessionIdle("sess-1", "my-project")
	require.True(t, d.waitForCount(1, time.Second))

	msg := d.notifications()[0].Message
	assert.Contains(t, msg, "my-project")
	assert.NotContains(t, msg, "{project}")
	assert.NotContains(t, msg, "{minutes}")
}

// TestFixedPickOption: WithPick substitutes the selection function.
func TestFixedPickOption(t *testing.T) {
	d := newFakeDispatcher()
	settings := testSettings(20*time.Millisecond, 2, 1, false)
	settings.Messages = []string{"a", "b", "c"}

	s := newTestScheduler(t, settings, d, WithPick(func(candidates []string) string {
		return candidates[0]
	}))

	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(1, time.Second))
	assert.Equal(t, "a", d.notifications()[0].Message)
}

// TestUpdateSettingsAffectsFutureEpisodes: a hot reload leaves the in-flight
// episode on its pinned settings.
func TestUpdateSettingsAffectsFutureEpisodes(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(40*time.Millisecond, 2, 2, true), d)

	s.SessionIdle("sess-1", "proj")

	next := testSettings(40*time.Millisecond, 2, 1, true)
	require.NoError(t, s.UpdateSettings(next))

	// The running episode still has budget 2.
	require.True(t, d.waitForCount(2, 2*time.Second))

	// A fresh episode picks up the new budget of 1.
	s.Activity("sess-1", models.RoleUser)
	s.SessionIdle("sess-1", "proj")
	require.True(t, d.waitForCount(3, time.Second))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 3, d.count())
}

// TestInvalidSettings: construction fails fast, never mid-episode.
func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero delay", func(s *Settings) { s.InitialDelay = 0 }},
		{"negative delay", func(s *Settings) { s.InitialDelay = -time.Second }},
		{"multiplier below one", func(s *Settings) { s.BackoffMultiplier = 0.5 }},
		{"zero budget", func(s *Settings) { s.MaxReminders = 0 }},
		{"empty pool", func(s *Settings) { s.Messages = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(time.Second, 2, 3, true)
			tt.mutate(&settings)
			_, err := New(settings, newFakeDispatcher())
			assert.Error(t, err)
		})
	}
}

// TestConcurrentEvents hammers one session with interleaved idle and
// activity events; per-session serialization must keep state consistent.
func TestConcurrentEvents(t *testing.T) {
	d := newFakeDispatcher()
	s := newTestScheduler(t, testSettings(5*time.Millisecond, 2, 2, true), d)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SessionIdle("sess-1", "proj")
		}()
		go func() {
			defer wg.Done()
			s.Activity("sess-1", models.RoleUser)
		}()
	}
	wg.Wait()

	// Quiesce, then verify the state is one of the legal terminal shapes.
	s.Activity("sess-1", models.RoleUser)
	time.Sleep(100 * time.Millisecond)

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Contains(t, []models.ReminderStatus{
		models.StatusCancelled, models.StatusExhausted,
	}, snaps[0].Status)
}

// TestShutdownStopsTimers: no reminder fires after Shutdown.
func TestShutdownStopsTimers(t *testing.T) {
	d := newFakeDispatcher()
	s, err := New(testSettings(50*time.Millisecond, 2, 3, true), d)
	require.NoError(t, err)

	s.SessionIdle("sess-1", "proj")
	s.Shutdown()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, d.count())
}
