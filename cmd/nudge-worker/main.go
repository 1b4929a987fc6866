// Package main provides the nudge worker entry point.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/nudge/internal/config"
	"github.com/thebtf/nudge/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	foreground := flag.Bool("foreground", false, "Log to stderr instead of the log file")
	flag.Parse()

	setupLogging(*debug, *foreground)

	svc, err := worker.NewService(Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker service")
	}

	if err := svc.Run(); err != nil {
		log.Fatal().Err(err).Msg("Worker exited with error")
	}
}

// setupLogging configures zerolog. The worker normally runs detached from a
// hook, so logs go to the log file unless -foreground is given.
func setupLogging(debug, foreground bool) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(config.Get().LogLevel); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if foreground {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
		return
	}

	logFile, err := os.OpenFile(config.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
		log.Warn().Err(err).Msg("Failed to open log file, logging to stderr")
		return
	}
	log.Logger = log.Output(logFile)
}
