// Package main provides the stop hook entry point. Claude Code runs it when
// the assistant finishes responding, which is the moment a session goes idle.
package main

import (
	"github.com/thebtf/nudge/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	StopHookActive bool   `json:"stop_hook_active"`
	TranscriptPath string `json:"transcript_path"`
}

func main() {
	hooks.RunHook("Stop", handleStop)
}

func handleStop(ctx *hooks.HookContext, input *Input) error {
	// A stop hook fired by another stop hook's continuation is not a new
	// idle period.
	if input.StopHookActive {
		return nil
	}

	return hooks.PostEvent(ctx.Port, "/api/events/idle", map[string]string{
		"sessionId": ctx.SessionID,
		"project":   ctx.Project,
	})
}
