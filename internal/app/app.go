// Package app wires the talkback subsystems into a running client.
//
// The App owns the full lifecycle: New builds the shared components (audio
// context, synthesis client, metrics tracker, session supervisor), Run
// executes the reconnecting pipeline plus the optional operational HTTP
// listener, and Close releases the audio device context.
//
// For testing, inject doubles via functional options (WithFactory,
// WithPlayer, WithSynthesizer). When no factory is injected, New initialises
// the real audio backend and each session gets a live capture device and
// transcription connection.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/respond"
	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/internal/stt"
	"github.com/MrWong99/talkback/internal/tts"
	"github.com/MrWong99/talkback/internal/vad"
	"github.com/MrWong99/talkback/pkg/audio"
)

// App owns the client's long-lived components.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracker *observe.Tracker

	audioCtx *audio.Context
	player   audio.Player
	synth    respond.Synthesizer
	factory  session.Factory

	supervisor *session.Supervisor
}

// Option injects a test double into New.
type Option func(*App)

// WithFactory replaces the default session factory. The app then never
// touches the audio backend.
func WithFactory(f session.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithPlayer replaces the playback device.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithSynthesizer replaces the synthesis client.
func WithSynthesizer(s respond.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// New wires an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		tracker: observe.NewTracker(observe.DefaultMetrics()),
	}
	for _, o := range opts {
		o(a)
	}

	if a.synth == nil {
		client, err := tts.New(tts.Config{
			URL:            cfg.Server.TTSURL,
			RequestTimeout: cfg.Response.RequestTimeout(),
			Voice:          cfg.Response.Voice,
			Model:          cfg.Response.Model,
			Personality:    cfg.Response.Personality,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app: synthesis client: %w", err)
		}
		a.synth = client
	}

	if a.factory == nil {
		audioCtx, err := audio.NewContext()
		if err != nil {
			return nil, fmt.Errorf("app: audio backend: %w", err)
		}
		a.audioCtx = audioCtx
		if a.player == nil {
			a.player = audio.NewPlayer(audioCtx, cfg.Audio.OutputDevice)
		}
		a.factory = a.buildSession
	}

	a.supervisor = session.NewSupervisor(session.SupervisorConfig{
		Factory: a.factory,
		Backoff: resilience.Backoff{
			Base:       cfg.Reconnect.Backoff(),
			Multiplier: cfg.Reconnect.BackoffMultiplier,
			Max:        cfg.Reconnect.MaxBackoff(),
			Jitter:     cfg.Reconnect.Jitter,
		},
		Logger:  logger,
		Tracker: a.tracker,
	})

	return a, nil
}

// buildSession is the default session factory: a live capture device, a
// fresh transcription connection, a fresh detector and a coordinator.
func (a *App) buildSession(ctx context.Context) (session.Runner, error) {
	capturer := audio.NewCapturer(a.audioCtx, audio.CaptureConfig{
		SampleRate:     a.cfg.Audio.SampleRate,
		FrameDuration:  a.cfg.Audio.FrameDuration(),
		DeviceSelector: a.cfg.Audio.InputDevice,
		QueueSize:      a.cfg.Audio.QueueSize,
	})
	if err := capturer.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}

	channel, err := stt.Dial(ctx, stt.Config{
		URL:                   a.cfg.Server.STTWebSocketURL,
		ReadyTimeout:          a.cfg.STT.ReadyTimeout(),
		ResponseTimeoutFactor: a.cfg.STT.ResponseTimeoutFactor,
		ResponseTimeoutFloor:  a.cfg.STT.ResponseTimeoutFloor(),
		PingInterval:          a.cfg.STT.PingInterval(),
		Logger:                a.logger,
		Tracker:               a.tracker,
	})
	if err != nil {
		capturer.Stop()
		return nil, err
	}

	detector := vad.New(vad.Config{
		FrameDuration:       a.cfg.Audio.FrameDuration(),
		SilenceRMSThreshold: a.cfg.VAD.SilenceRMSThreshold,
		SilenceMax:          a.cfg.VAD.SilenceMax(),
		MinUtterance:        a.cfg.VAD.MinUtterance(),
		MaxUtterance:        a.cfg.VAD.MaxUtterance(),
		UtteranceCooldown:   a.cfg.VAD.UtteranceCooldown(),
	})

	coordinator := respond.New(a.synth, a.player, respond.Config{
		Cooldown: a.cfg.Response.Cooldown(),
		Logger:   a.logger,
		Tracker:  a.tracker,
	})

	return session.New(session.Config{
		Source:   capturer,
		Stream:   channel,
		Detector: detector,
		Handler:  coordinator,
		Logger:   a.logger,
		Tracker:  a.tracker,
	}), nil
}

// Run executes the pipeline until ctx is cancelled: the reconnecting session
// supervisor, the periodic metrics summary, and the operational HTTP
// listener when configured.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			a.tracker.RunLogger(ctx, a.logger, a.cfg.Metrics.LogInterval())
			return nil
		})
	}

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.opsHandler()}
		g.Go(func() error {
			a.logger.Info("operational endpoints listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return a.supervisor.Run(ctx) })

	return g.Wait()
}

// Close releases the audio backend. Call after Run returns.
func (a *App) Close() error {
	if a.audioCtx != nil {
		return a.audioCtx.Close()
	}
	return nil
}

// opsHandler serves /metrics, /healthz and /readyz.
func (a *App) opsHandler() http.Handler {
	checks := []health.Checker{
		health.HTTPChecker("stt", healthURL(a.cfg.Server.STTWebSocketURL), nil),
		health.HTTPChecker("tts", healthURL(a.cfg.Server.TTSURL), nil),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checks...).Register(mux)
	return mux
}

// healthURL rewrites a service endpoint to its sibling /health route.
func healthURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}
