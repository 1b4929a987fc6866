package notify

import (
	"context"
	"os/exec"
)

// Runner executes external commands. The production implementation shells
// out; tests inject a recorder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	LookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- name comes from the compiled-in command table, never input
	return exec.CommandContext(ctx, name, args...).Run()
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
