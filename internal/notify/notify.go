// Package notify delivers reminders through the platform's TTS, sound, and
// desktop notification channels. It is the scheduler's opaque side-effecting
// collaborator: it never retries, and the scheduler never depends on its
// outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/nudge/pkg/models"
)

// ErrNoChannels indicates no notification channel is available or enabled.
var ErrNoChannels = errors.New("no notification channel available")

// forcedVolumePercent is the output volume applied when ForceVolume is set.
const forcedVolumePercent = 70

// DefaultCommandTimeout bounds each external command. Dispatch duration is
// bounded here, in the collaborator, not in the scheduler.
const DefaultCommandTimeout = 15 * time.Second

// Options selects which channels dispatch attempts.
type Options struct {
	EnableTTS      bool
	EnableSound    bool
	ForceVolume    bool
	SoundFile      string
	CommandTimeout time.Duration
}

// Dispatcher delivers reminders via shell commands probed at construction.
type Dispatcher struct {
	opts   Options
	runner Runner
	caps   capabilities
}

// New creates a dispatcher for the current platform.
func New(opts Options) *Dispatcher {
	return NewWithRunner(opts, execRunner{})
}

// NewWithRunner creates a dispatcher with an explicit runner.
func NewWithRunner(opts Options, r Runner) *Dispatcher {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	caps := detect(runtime.GOOS, r)
	log.Debug().
		Str("speak", caps.speak).
		Str("sound", caps.sound).
		Str("desktop", caps.desktop).
		Msg("Notification channels probed")
	return &Dispatcher{opts: opts, runner: r, caps: caps}
}

// Deliver sends one reminder through every enabled channel. Delivery counts
// as succeeded when any channel goes through; the first error is reported
// but the scheduler ignores it by contract.
func (d *Dispatcher) Deliver(ctx context.Context, n models.Notification) models.DeliveryResult {
	ctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	title := "Claude Code is waiting"
	if n.Project != "" {
		title = fmt.Sprintf("Claude Code is waiting (%s)", n.Project)
	}

	if d.opts.ForceVolume {
		if args := d.caps.volumeArgs(forcedVolumePercent); args != nil {
			if err := d.runner.Run(ctx, args[0], args[1:]...); err != nil {
				log.Debug().Err(err).Msg("Volume force failed")
			}
		}
	}

	delivered := false
	var firstErr error
	record := func(channel string, err error) {
		if err == nil {
			delivered = true
			return
		}
		log.Debug().Err(err).Str("channel", channel).Msg("Notification channel failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", channel, err)
		}
	}

	if args := d.caps.desktopArgs(title, n.Message); args != nil {
		record("desktop", d.runner.Run(ctx, args[0], args[1:]...))
	}

	if d.opts.EnableSound {
		if args := d.caps.soundArgs(d.opts.SoundFile); args != nil {
			record("sound", d.runner.Run(ctx, args[0], args[1:]...))
		}
	}

	if d.opts.EnableTTS {
		if args := d.caps.speakArgs(n.Message); args != nil {
			record("tts", d.runner.Run(ctx, args[0], args[1:]...))
		}
	}

	if !delivered && firstErr == nil {
		firstErr = ErrNoChannels
	}

	return models.DeliveryResult{Delivered: delivered, Err: firstErr}
}
