// Package main provides the post-tool-use hook entry point. Tool activity is
// assistant-originated: it updates the activity clock but never cancels a
// reminder chain.
package main

import (
	"github.com/thebtf/nudge/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	ToolName  string      `json:"tool_name"`
	ToolInput interface{} `json:"tool_input"`
	ToolUseID string      `json:"tool_use_id"`
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, _ *Input) error {
	return hooks.PostEvent(ctx.Port, "/api/events/activity", map[string]string{
		"sessionId": ctx.SessionID,
		"role":      "assistant",
	})
}
