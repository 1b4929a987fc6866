// Package main provides the session-end hook entry point. It discards the
// session's reminder state in the worker.
package main

import (
	"github.com/thebtf/nudge/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	Reason string `json:"reason"`
}

func main() {
	hooks.RunHook("SessionEnd", handleSessionEnd)
}

func handleSessionEnd(ctx *hooks.HookContext, _ *Input) error {
	return hooks.PostEvent(ctx.Port, "/api/events/end", map[string]string{
		"sessionId": ctx.SessionID,
	})
}
