package worker

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/nudge/pkg/models"
)

const defaultReminderLimit = 50

// idleEvent is the hook payload for a session going idle.
type idleEvent struct {
	SessionID models.SessionID `json:"sessionId"`
	Project   string           `json:"project,omitempty"`
}

// activityEvent is the hook payload for activity in a session.
type activityEvent struct {
	SessionID models.SessionID    `json:"sessionId"`
	Role      models.ActivityRole `json:"role"`
}

// endEvent is the hook payload for a session ending.
type endEvent struct {
	SessionID models.SessionID `json:"sessionId"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimitParam parses a limit query parameter with a default value.
func parseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleSessionIdle handles POST /api/events/idle.
func (s *Service) handleSessionIdle(w http.ResponseWriter, r *http.Request) {
	var ev idleEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	s.scheduler.SessionIdle(ev.SessionID, ev.Project)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleActivity handles POST /api/events/activity.
func (s *Service) handleActivity(w http.ResponseWriter, r *http.Request) {
	var ev activityEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if ev.Role == "" {
		ev.Role = models.RoleUser
	}

	s.scheduler.Activity(ev.SessionID, ev.Role)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionEnd handles POST /api/events/end.
func (s *Service) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var ev endEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	s.scheduler.SessionEnd(ev.SessionID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions handles GET /api/sessions.
func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	snapshots := s.scheduler.Snapshots()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": snapshots,
		"count":    len(snapshots),
	})
}

// handleRecentReminders handles GET /api/history/reminders.
func (s *Service) handleRecentReminders(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitParam(r, defaultReminderLimit)

	records, err := s.historyStore.RecentReminders(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list reminders")
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	if records == nil {
		records = []*models.ReminderRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": records,
		"count":     len(records),
	})
}

// handleHistoryStats handles GET /api/history/stats. The window defaults to
// the last 24 hours.
func (s *Service) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if d := r.URL.Query().Get("window"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		since = time.Now().Add(-parsed)
	}

	stats, err := s.historyStore.EpisodeStats(r.Context(), since.UnixMilli())
	if err != nil {
		log.Error().Err(err).Msg("Failed to aggregate history stats")
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles GET /api/health.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "starting")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.startTime).String(),
		"sessions": s.scheduler.SessionCount(),
		"clients":  s.sseBroadcaster.ClientCount(),
	})
}

// handleVersion handles GET /api/version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
