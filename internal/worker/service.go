// Package worker provides the background worker service for nudge. It owns
// the reminder scheduler and exposes the localhost HTTP API that the Claude
// Code hooks talk to.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/nudge/internal/config"
	"github.com/thebtf/nudge/internal/db/sqlite"
	"github.com/thebtf/nudge/internal/messages"
	"github.com/thebtf/nudge/internal/metrics"
	"github.com/thebtf/nudge/internal/notify"
	"github.com/thebtf/nudge/internal/scheduler"
	"github.com/thebtf/nudge/internal/watcher"
	"github.com/thebtf/nudge/internal/worker/sse"
)

const (
	shutdownTimeout = 5 * time.Second
	pruneInterval   = time.Hour
)

// Service is the nudge worker: scheduler, history store, notification
// dispatcher, and the HTTP API tying them together.
type Service struct {
	version        string
	config         config.Config
	store          *sqlite.Store
	historyStore   *sqlite.HistoryStore
	scheduler      *scheduler.Scheduler
	dispatcher     *notify.Dispatcher
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	ready          atomic.Bool
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time
}

// NewService creates the worker service and wires its components.
func NewService(version string) (*Service, error) {
	if err := config.EnsureAll(); err != nil {
		return nil, fmt.Errorf("failed to prepare data dir: %w", err)
	}

	// Load explicitly rather than through the cache: an unparsable settings
	// file must fail daemon construction, not degrade to defaults.
	cfg, err := config.Load(config.SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	config.Set(cfg)

	store, err := sqlite.NewStore(config.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	historyStore := sqlite.NewHistoryStore(store)

	dispatcher := notify.New(notify.Options{
		EnableTTS:   cfg.EnableTTSReminder,
		EnableSound: cfg.EnableSound,
		ForceVolume: cfg.ForceVolume,
		SoundFile:   cfg.SoundFile,
	})

	sseBroadcaster := sse.NewBroadcaster()

	meters, err := metrics.NewReminders()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize metrics, continuing without")
	}

	settings, err := settingsFromConfig(cfg, config.MessagesPath())
	if err != nil {
		store.Close()
		return nil, err
	}

	sched, err := scheduler.New(settings, dispatcher,
		scheduler.WithHistory(historyStore),
		scheduler.WithMetrics(meters),
		scheduler.WithEventSink(sseBroadcaster.Broadcast),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		store:          store,
		historyStore:   historyStore,
		scheduler:      sched,
		dispatcher:     dispatcher,
		sseBroadcaster: sseBroadcaster,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	svc.setupRoutes()

	return svc, nil
}

// settingsFromConfig maps the settings file onto a scheduler snapshot,
// resolving the message pool through the registry fallback chain. An
// unparsable messages file is an error; a missing one is not.
func settingsFromConfig(cfg config.Config, messagesPath string) (scheduler.Settings, error) {
	reg, err := messages.Load(messagesPath)
	if err != nil {
		return scheduler.Settings{}, fmt.Errorf("failed to load message packs: %w", err)
	}

	return scheduler.Settings{
		Enabled:           cfg.Enabled,
		InitialDelay:      cfg.EffectiveInitialDelay(),
		BackoffMultiplier: cfg.ReminderBackoffMultiplier,
		MaxReminders:      cfg.MaxFollowUpReminders,
		FollowUps:         cfg.EnableFollowUpReminders,
		Messages:          reg.Resolve(cfg.IdleReminderTTSMessages, config.DefaultMessages),
	}, nil
}

// setupRoutes configures the HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/events/idle", s.handleSessionIdle)
		r.Post("/events/activity", s.handleActivity)
		r.Post("/events/end", s.handleSessionEnd)

		r.Get("/sessions", s.handleSessions)
		r.Get("/history/reminders", s.handleRecentReminders)
		r.Get("/history/stats", s.handleHistoryStats)

		r.Get("/events/stream", s.sseBroadcaster.HandleSSE)

		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
	})
}

// Run starts the worker and blocks until shutdown.
func (s *Service) Run() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	settingsWatcher, err := watcher.New(config.SettingsPath(), s.reloadSettings)
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable, hot reload disabled")
	} else if err := settingsWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	}

	g, ctx := errgroup.WithContext(s.ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("version", s.version).Msg("Worker listening")
		s.ready.Store(true)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.pruneLoop(ctx)
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
		case <-ctx.Done():
		}

		s.ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown error")
		}

		if settingsWatcher != nil {
			_ = settingsWatcher.Stop()
		}
		s.scheduler.Shutdown()
		s.cancel()
		return nil
	})

	err = g.Wait()
	if closeErr := s.store.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("Failed to close database")
	}
	return err
}

// reloadSettings re-reads the settings file and swaps the scheduler
// snapshot. In-flight episodes keep the snapshot they started with.
func (s *Service) reloadSettings() {
	cfg, err := config.Load(config.SettingsPath())
	if err != nil {
		log.Warn().Err(err).Msg("Settings reload failed, keeping current settings")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("Reloaded settings invalid, keeping current settings")
		return
	}

	settings, err := settingsFromConfig(cfg, config.MessagesPath())
	if err != nil {
		log.Warn().Err(err).Msg("Message packs unreadable, keeping current settings")
		return
	}

	config.Set(cfg)

	if err := s.scheduler.UpdateSettings(settings); err != nil {
		log.Warn().Err(err).Msg("Scheduler rejected reloaded settings")
		return
	}

	log.Info().
		Bool("enabled", cfg.Enabled).
		Dur("initialDelay", cfg.EffectiveInitialDelay()).
		Int("maxReminders", cfg.MaxFollowUpReminders).
		Msg("Settings reloaded")
}

// pruneLoop trims history rows past the retention horizon once an hour.
func (s *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	s.pruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce(ctx)
		}
	}
}

func (s *Service) pruneOnce(ctx context.Context) {
	retention := config.Get().HistoryRetentionDays
	if retention <= 0 {
		return
	}
	if err := s.historyStore.Prune(ctx, retention); err != nil {
		log.Warn().Err(err).Msg("History prune failed")
	}
}
