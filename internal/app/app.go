// Package app wires all Parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order. For testing, inject mock capability providers
// through [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/internal/work"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Providers holds one interface value per capability slot. ASR and VAD are
// required; nil MT or TTS disable their stages. Populated by main.go via the
// config registry.
type Providers = session.Capabilities

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	server   *http.Server
	registry *room.Registry
	pipeline *session.Pipeline

	// closers are called in order during Shutdown.
	closers []func() error
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers Providers, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if providers.ASR == nil {
		return nil, fmt.Errorf("app: no ASR capability configured (capability_unavailable)")
	}
	if providers.VAD == nil {
		return nil, fmt.Errorf("app: no VAD capability configured (capability_unavailable)")
	}

	metrics := observe.DefaultMetrics()
	pool := work.New(cfg.Pipeline.Workers)
	log.Info("worker pool sized", "workers", pool.Size())

	pipeline, err := session.NewPipeline(providers, session.Config{
		SilenceHold:        time.Duration(cfg.Pipeline.SilenceHoldMs) * time.Millisecond,
		PartialMin:         time.Duration(cfg.Pipeline.PartialMinMs) * time.Millisecond,
		PartialTranslation: cfg.Pipeline.PartialTranslation == nil || *cfg.Pipeline.PartialTranslation,
		ASRTimeout:         cfg.Pipeline.ASRTimeout,
		MTTimeout:          cfg.Pipeline.MTTimeout,
		TTSTimeout:         cfg.Pipeline.TTSTimeout,
	}, pool, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}

	recs, err := recording.NewStore(cfg.Recording.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("app: recording store: %w", err)
	}

	registry := room.NewRegistry(pipeline, room.RegistryConfig{
		CodeLength:    cfg.Rooms.CodeLength,
		IdleTTL:       cfg.Rooms.IdleTTL,
		SweepInterval: cfg.Rooms.SweepInterval,
		Languages:     config.SupportedLanguages,
	}, log)

	endpoint := wire.New(pipeline, registry, recs, metrics, log)

	mux := http.NewServeMux()
	endpoint.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(capabilityCheckers(providers)...).Register(mux)

	server := &http.Server{
		Addr:        cfg.Server.ListenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived.
	}

	return &App{
		cfg:      cfg,
		server:   server,
		registry: registry,
		pipeline: pipeline,
	}, nil
}

// Run serves until ctx is cancelled, then returns context.Canceled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.registry.Sweep(ctx)
		return ctx.Err()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown ends all rooms (clients observe the terminal status) and runs the
// registered closers. It respects the context deadline: remaining closers
// are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	a.registry.CloseAll()

	var errs []error
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return errors.Join(append(errs, ctx.Err())...)
		default:
		}
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddCloser registers a teardown function run during Shutdown, in order.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// capabilityCheckers builds readiness checkers for the configured providers.
// The checks are shallow — presence, plus a language listing for MT/TTS —
// because a deep model probe per scrape would contend with live sessions.
func capabilityCheckers(p Providers) []health.Checker {
	checkers := []health.Checker{
		{Name: "asr", Check: func(context.Context) error {
			if p.ASR == nil {
				return errors.New("not configured")
			}
			return nil
		}},
	}
	if p.MT != nil {
		checkers = append(checkers, health.Checker{Name: "mt", Check: func(context.Context) error {
			if len(p.MT.Languages()) == 0 {
				return errors.New("no languages available")
			}
			return nil
		}})
	}
	if p.TTS != nil {
		checkers = append(checkers, health.Checker{Name: "tts", Check: func(context.Context) error {
			if len(p.TTS.Languages()) == 0 {
				return errors.New("no voices configured")
			}
			return nil
		}})
	}
	return checkers
}
