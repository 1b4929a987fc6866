package sqlite

import (
	"context"
	"time"

	"github.com/thebtf/nudge/pkg/models"
)

// HistoryStore persists idle episodes and delivered reminders.
type HistoryStore struct {
	store *Store
}

// NewHistoryStore creates a new history store.
func NewHistoryStore(store *Store) *HistoryStore {
	return &HistoryStore{store: store}
}

// StartEpisode records a new idle episode. Idempotent: re-inserting the same
// episode id is a no-op.
func (h *HistoryStore) StartEpisode(ctx context.Context, ep models.Episode) error {
	const query = `
		INSERT OR IGNORE INTO episodes (id, session_id, project, idle_at_epoch, outcome)
		VALUES (?, ?, ?, ?, 'open')
	`
	_, err := h.store.ExecContext(ctx, query, ep.ID, ep.SessionID, ep.Project, ep.IdleAtEpoch)
	return err
}

// CloseEpisode marks an episode's outcome. Only an open episode is updated,
// so a late close racing a newer one cannot overwrite it.
func (h *HistoryStore) CloseEpisode(ctx context.Context, episodeID string, outcome models.EpisodeOutcome, endedAtEpoch int64) error {
	const query = `
		UPDATE episodes
		SET outcome = ?, ended_at_epoch = ?
		WHERE id = ? AND outcome = 'open'
	`
	_, err := h.store.ExecContext(ctx, query, string(outcome), endedAtEpoch, episodeID)
	return err
}

// RecordReminder records one dispatched reminder attempt.
func (h *HistoryStore) RecordReminder(ctx context.Context, rec models.ReminderRecord) error {
	const query = `
		INSERT INTO reminders (episode_id, session_id, attempt, message, delivered, fired_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	delivered := 0
	if rec.Delivered {
		delivered = 1
	}
	_, err := h.store.ExecContext(ctx, query,
		rec.EpisodeID, rec.SessionID, rec.Attempt, rec.Message, delivered, rec.FiredAtEpoch,
	)
	return err
}

// GetEpisode retrieves an episode by id. Returns nil when absent.
func (h *HistoryStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	const query = `
		SELECT id, session_id, project, idle_at_epoch, ended_at_epoch, outcome
		FROM episodes
		WHERE id = ?
		LIMIT 1
	`
	var ep models.Episode
	err := h.store.QueryRowContext(ctx, query, id).Scan(
		&ep.ID, &ep.SessionID, &ep.Project, &ep.IdleAtEpoch, &ep.EndedAtEpoch, &ep.Outcome,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// RecentReminders returns the most recently fired reminders, newest first.
func (h *HistoryStore) RecentReminders(ctx context.Context, limit int) ([]*models.ReminderRecord, error) {
	const query = `
		SELECT id, episode_id, session_id, attempt, message, delivered, fired_at_epoch
		FROM reminders
		ORDER BY fired_at_epoch DESC, id DESC
		LIMIT ?
	`
	rows, err := h.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ReminderRecord
	for rows.Next() {
		var rec models.ReminderRecord
		var delivered int
		if err := rows.Scan(
			&rec.ID, &rec.EpisodeID, &rec.SessionID, &rec.Attempt,
			&rec.Message, &delivered, &rec.FiredAtEpoch,
		); err != nil {
			return nil, err
		}
		rec.Delivered = delivered != 0
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Stats summarizes reminder activity since a point in time.
type Stats struct {
	Episodes  int `json:"episodes"`
	Reminders int `json:"reminders"`
	Cancelled int `json:"cancelled"`
	Exhausted int `json:"exhausted"`
}

// EpisodeStats counts episodes and reminders since the given epoch.
func (h *HistoryStore) EpisodeStats(ctx context.Context, sinceEpoch int64) (*Stats, error) {
	const episodeQuery = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'exhausted' THEN 1 ELSE 0 END), 0)
		FROM episodes
		WHERE idle_at_epoch >= ?
	`
	var stats Stats
	err := h.store.QueryRowContext(ctx, episodeQuery, sinceEpoch).Scan(
		&stats.Episodes, &stats.Cancelled, &stats.Exhausted,
	)
	if err != nil {
		return nil, err
	}

	const reminderQuery = `SELECT COUNT(*) FROM reminders WHERE fired_at_epoch >= ?`
	if err := h.store.QueryRowContext(ctx, reminderQuery, sinceEpoch).Scan(&stats.Reminders); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Prune deletes episodes and reminders older than the retention horizon.
// A retention of 0 disables pruning.
func (h *HistoryStore) Prune(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	const reminderQuery = `DELETE FROM reminders WHERE fired_at_epoch < ?`
	if _, err := h.store.ExecContext(ctx, reminderQuery, cutoff); err != nil {
		return err
	}

	const episodeQuery = `DELETE FROM episodes WHERE idle_at_epoch < ? AND outcome != 'open'`
	_, err := h.store.ExecContext(ctx, episodeQuery, cutoff)
	return err
}
