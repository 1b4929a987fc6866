// Package config provides configuration management for nudge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the localhost port the worker daemon binds to.
	DefaultWorkerPort = 43917

	// DefaultInitialDelaySeconds is the idle delay used when neither delay
	// knob is set in the settings file.
	DefaultInitialDelaySeconds = 600

	// DefaultBackoffMultiplier is the growth factor between follow-ups.
	DefaultBackoffMultiplier = 2.0

	// DefaultMaxFollowUpReminders is the total attempt budget per episode,
	// including the initial reminder.
	DefaultMaxFollowUpReminders = 3
)

// DefaultMessages is the compiled-in reminder pool, used when neither the
// settings file nor the messages registry provides one.
var DefaultMessages = []string{
	"Your session in {project} is waiting for you",
	"Claude has been idle for {minutes} minutes in {project}",
	"Still waiting on your input in {project}",
}

// Config holds all nudge settings.
type Config struct {
	Enabled                   bool     `json:"enabled"`
	EnableTTSReminder         bool     `json:"enableTTSReminder"`
	EnableSound               bool     `json:"enableSound"`
	IdleReminderDelaySeconds  float64  `json:"idleReminderDelaySeconds"`
	TTSReminderDelaySeconds   float64  `json:"ttsReminderDelaySeconds"`
	EnableFollowUpReminders   bool     `json:"enableFollowUpReminders"`
	MaxFollowUpReminders      int      `json:"maxFollowUpReminders"`
	ReminderBackoffMultiplier float64  `json:"reminderBackoffMultiplier"`
	IdleReminderTTSMessages   []string `json:"idleReminderTTSMessages,omitempty"`
	SoundFile                 string   `json:"soundFile,omitempty"`
	ForceVolume               bool     `json:"forceVolume"`
	WorkerPort                int      `json:"workerPort"`
	LogLevel                  string   `json:"logLevel"`
	HistoryRetentionDays      int      `json:"historyRetentionDays"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Enabled:                   true,
		EnableTTSReminder:         true,
		EnableSound:               true,
		IdleReminderDelaySeconds:  DefaultInitialDelaySeconds,
		TTSReminderDelaySeconds:   0,
		EnableFollowUpReminders:   true,
		MaxFollowUpReminders:      DefaultMaxFollowUpReminders,
		ReminderBackoffMultiplier: DefaultBackoffMultiplier,
		ForceVolume:               false,
		WorkerPort:                DefaultWorkerPort,
		LogLevel:                  "info",
		HistoryRetentionDays:      30,
	}
}

// EffectiveInitialDelay resolves the two delay knobs into the single delay
// used for the first reminder of an episode. Both knobs are promises of
// "nudge me within N seconds", so the earlier one wins; a knob that is unset
// (zero) defers to the other, and both unset falls back to the default.
func (c Config) EffectiveInitialDelay() time.Duration {
	idle := c.IdleReminderDelaySeconds
	tts := c.TTSReminderDelaySeconds

	seconds := 0.0
	switch {
	case idle > 0 && tts > 0:
		seconds = idle
		if tts < idle {
			seconds = tts
		}
	case idle > 0:
		seconds = idle
	case tts > 0:
		seconds = tts
	default:
		seconds = DefaultInitialDelaySeconds
	}

	return time.Duration(seconds * float64(time.Second))
}

// Validate checks the configuration for values that would corrupt the
// scheduler. It is called once at construction; a config that passes here
// never fails mid-episode.
func (c Config) Validate() error {
	if c.IdleReminderDelaySeconds < 0 {
		return fmt.Errorf("idleReminderDelaySeconds must not be negative, got %v", c.IdleReminderDelaySeconds)
	}
	if c.TTSReminderDelaySeconds < 0 {
		return fmt.Errorf("ttsReminderDelaySeconds must not be negative, got %v", c.TTSReminderDelaySeconds)
	}
	if c.EffectiveInitialDelay() <= 0 {
		return fmt.Errorf("effective initial delay must be positive")
	}
	if c.ReminderBackoffMultiplier < 1 {
		return fmt.Errorf("reminderBackoffMultiplier must be >= 1, got %v", c.ReminderBackoffMultiplier)
	}
	if c.MaxFollowUpReminders < 1 {
		return fmt.Errorf("maxFollowUpReminders must be >= 1, got %d", c.MaxFollowUpReminders)
	}
	if c.WorkerPort < 1 || c.WorkerPort > 65535 {
		return fmt.Errorf("workerPort out of range: %d", c.WorkerPort)
	}
	if c.HistoryRetentionDays < 0 {
		return fmt.Errorf("historyRetentionDays must not be negative, got %d", c.HistoryRetentionDays)
	}
	return nil
}

// DataDir returns the nudge data directory (~/.nudge).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".nudge")
}

// SettingsPath returns the path to settings.json.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// MessagesPath returns the path to the optional messages.yaml registry.
func MessagesPath() string {
	return filepath.Join(DataDir(), "messages.yaml")
}

// DBPath returns the path to the reminder history database.
func DBPath() string {
	return filepath.Join(DataDir(), "nudge.db")
}

// LogPath returns the path to the worker log file.
func LogPath() string {
	return filepath.Join(DataDir(), "worker.log")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll initializes the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings from the given path, applying defaults for any field
// the file omits. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path is our own settings location
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

var (
	cached   Config
	cachedMu sync.RWMutex
	loaded   bool
)

// Get returns the cached configuration, loading it on first use.
func Get() Config {
	cachedMu.RLock()
	if loaded {
		defer cachedMu.RUnlock()
		return cached
	}
	cachedMu.RUnlock()

	cfg, err := Load(SettingsPath())
	if err != nil {
		cfg = Default()
	}
	Set(cfg)
	return cfg
}

// Set replaces the cached configuration. Used by the settings watcher after
// a successful reload.
func Set(cfg Config) {
	cachedMu.Lock()
	cached = cfg
	loaded = true
	cachedMu.Unlock()
}
