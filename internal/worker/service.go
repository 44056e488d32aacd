// Package worker provides the HTTP worker service for searchlog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/searchlog/internal/cache"
	"github.com/thebtf/searchlog/internal/config"
	"github.com/thebtf/searchlog/internal/db/gorm"
	"github.com/thebtf/searchlog/internal/history"
	"github.com/thebtf/searchlog/internal/watcher"
	"github.com/thebtf/searchlog/internal/worker/sse"
)

// Service is the worker: HTTP API, history store and change stream.
type Service struct {
	startTime       time.Time
	ctx             context.Context
	backend         history.Backend
	history         *history.Service
	cache           *cache.RedisCache
	sseBroadcaster  *sse.Broadcaster
	router          *chi.Mux
	server          *http.Server
	settingsWatcher *watcher.Watcher
	dbWatcher       *watcher.Watcher
	config          *config.Config
	cancel          context.CancelFunc
	version         string
	ready           atomic.Bool
}

// NewService opens the configured backend and builds the worker.
func NewService(version string, cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	opts := cfg.HistoryOptions()

	var redisCache *cache.RedisCache
	if cfg.RedisAddr != "" {
		redisCache = cache.NewRedisCache(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL(),
		})
		opts.Cache = redisCache
		log.Info().Str("addr", cfg.RedisAddr).Msg("Popular-query cache enabled")
	}

	svc := newService(version, cfg, backend, history.New(backend, opts))
	svc.cache = redisCache
	return svc, nil
}

// newService wires routes and listeners around an existing history service.
func newService(version string, cfg *config.Config, backend history.Backend, hist *history.Service) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
		backend:        backend,
		history:        hist,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		config:         cfg,
		version:        version,
	}
	hist.OnChange(s.sseBroadcaster.Listener(ctx))
	s.setupRoutes()
	return s
}

func openBackend(cfg *config.Config) (history.Backend, error) {
	if cfg.DBDriver == "memory" {
		log.Warn().Msg("Using in-memory history backend; history is lost on exit")
		return history.NewMemoryBackend(), nil
	}

	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.DBDriver, err)
	}
	log.Info().Str("driver", store.Driver()).Msg("History backend opened")
	return gorm.NewHistoryStore(store), nil
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/events", s.sseBroadcaster.HandleSSE)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Route("/api/history/{userID}", func(r chi.Router) {
			r.Post("/", s.handleRecord)
			r.Get("/", s.handleRecent)
			r.Delete("/", s.handleClear)
			r.Get("/suggestions", s.handleSuggestions)
			r.Delete("/{id}", s.handleDeleteOne)
		})
		r.Get("/api/popular", s.handlePopular)
	})
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start begins serving on the configured address and watching files.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. It returns once the listener is accepting.
func (s *Service) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startWatchers()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	s.ready.Store(true)
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("version", s.version).
		Str("driver", s.config.DBDriver).
		Msg("Worker ready")
	return nil
}

// startWatchers reloads the log level when settings change and marks the
// worker unready if the SQLite file disappears.
func (s *Service) startWatchers() {
	var err error

	s.settingsWatcher, err = watcher.New(config.SettingsPath(), 0, watcher.Handlers{
		OnChange: s.reloadSettings,
	})
	if err == nil {
		err = s.settingsWatcher.Start()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher disabled")
	}

	if s.config.DBDriver != gorm.DriverSQLite {
		return
	}
	s.dbWatcher, err = watcher.New(s.config.DBPath, 0, watcher.Handlers{
		OnDelete: func() {
			s.ready.Store(false)
			log.Error().Str("path", s.config.DBPath).Msg("Database file deleted; restart the worker")
		},
	})
	if err == nil {
		err = s.dbWatcher.Start()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Database watcher disabled")
	}
}

func (s *Service) reloadSettings() {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Settings reload failed")
		return
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Msg("Log level reloaded")
	}
}

// Shutdown stops serving, drops any pending debounced write, and releases
// the backend.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.history.Shutdown()
	s.cancel()

	for _, w := range []*watcher.Watcher{s.settingsWatcher, s.dbWatcher} {
		if w != nil {
			_ = w.Stop()
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	log.Info().Dur("uptime", time.Since(s.startTime)).Msg("Worker stopped")
	return errors.Join(errs...)
}
