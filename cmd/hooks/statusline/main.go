// Package main provides the statusline hook for Claude Code.
// This binary outputs a status line showing nudge's reminder state.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/thebtf/nudge/pkg/hooks"
	"github.com/thebtf/nudge/pkg/models"
)

// StatusInput is the JSON input from Claude Code's statusline feature.
type StatusInput struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	Model         struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
		ProjectDir string `json:"project_dir"`
	} `json:"workspace"`
	Version string `json:"version"`
}

// sessionsResponse is the worker's /api/sessions payload.
type sessionsResponse struct {
	Sessions []models.SessionSnapshot `json:"sessions"`
	Count    int                      `json:"count"`
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func main() {
	hooks.RunStatuslineHook(formatStatus)
}

func formatStatus(input *StatusInput, port int) string {
	useColors := colorsEnabled()

	if input == nil || port == 0 {
		return formatOffline(useColors)
	}

	resp := getSessions(port)
	if resp == nil {
		return formatOffline(useColors)
	}

	var mine *models.SessionSnapshot
	for i := range resp.Sessions {
		if resp.Sessions[i].SessionID == models.SessionID(input.SessionID) {
			mine = &resp.Sessions[i]
			break
		}
	}

	return formatLine(mine, resp.Count, useColors)
}

// getSessions fetches session snapshots from the worker. The statusline must
// stay fast, so the budget is 100ms.
func getSessions(port int) *sessionsResponse {
	client := &http.Client{Timeout: 100 * time.Millisecond}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/sessions", port))
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var out sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil
	}
	return &out
}

func colorsEnabled() bool {
	useColors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	switch os.Getenv("NUDGE_STATUSLINE_COLORS") {
	case "false":
		useColors = false
	case "true":
		useColors = true
	}
	return useColors
}

// formatLine renders the status line.
// [nudge] ● reminder in 9m | sessions:2
func formatLine(mine *models.SessionSnapshot, total int, useColors bool) string {
	prefix := "[nudge]"
	indicator := "●"
	if useColors {
		prefix = colorCyan + "[nudge]" + colorReset
		indicator = colorGreen + "●" + colorReset
	}

	parts := []string{}

	if mine != nil {
		switch mine.Status {
		case models.StatusScheduled, models.StatusFiring:
			until := time.Until(mine.NextFireAt).Round(time.Minute)
			if until < time.Minute {
				until = time.Minute
			}
			note := fmt.Sprintf("reminder in %s", formatMinutes(until))
			if mine.Attempts > 0 {
				note = fmt.Sprintf("reminder %d in %s", mine.Attempts+1, formatMinutes(until))
			}
			if useColors {
				note = colorYellow + note + colorReset
			}
			parts = append(parts, note)
		case models.StatusExhausted:
			parts = append(parts, "reminders exhausted")
		default:
			parts = append(parts, "watching")
		}
	} else {
		parts = append(parts, "watching")
	}

	if total > 1 {
		parts = append(parts, fmt.Sprintf("sessions:%d", total))
	}

	line := prefix + " " + indicator
	for i, p := range parts {
		if i == 0 {
			line += " " + p
		} else {
			line += " | " + p
		}
	}
	return line
}

func formatMinutes(d time.Duration) string {
	m := int(d.Minutes())
	if m < 1 {
		m = 1
	}
	return fmt.Sprintf("%dm", m)
}

func formatOffline(useColors bool) string {
	if useColors {
		return colorCyan + "[nudge]" + colorReset + " " + colorGray + "○ offline" + colorReset
	}
	return "[nudge] ○ offline"
}
