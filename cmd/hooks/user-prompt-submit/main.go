// Package main provides the user-prompt-submit hook entry point. Operator
// input cancels any pending reminder chain for the session.
package main

import (
	"github.com/thebtf/nudge/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	Prompt string `json:"prompt"`
}

func main() {
	hooks.RunHook("UserPromptSubmit", handleUserPromptSubmit)
}

func handleUserPromptSubmit(ctx *hooks.HookContext, _ *Input) error {
	return hooks.PostEvent(ctx.Port, "/api/events/activity", map[string]string{
		"sessionId": ctx.SessionID,
		"role":      "user",
	})
}
