package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
)

// defaultHealthyAfter is how long a session must survive for the backoff
// attempt counter to reset.
const defaultHealthyAfter = 30 * time.Second

// Runner is one disposable pipeline run. Implemented by [Session].
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds a fully wired session: capture device, transcription
// channel, detector, coordinator. Called once per connection attempt.
type Factory func(ctx context.Context) (Runner, error)

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	Factory Factory

	// Backoff paces reconnection attempts. Zero value uses the package
	// defaults of [resilience.Backoff].
	Backoff resilience.Backoff

	// HealthyAfter is the session lifetime that resets the attempt counter,
	// so a stable connection that eventually drops restarts from the base
	// delay instead of the cap.
	HealthyAfter time.Duration

	Logger  *slog.Logger
	Tracker *observe.Tracker

	// Sleep overrides the inter-attempt wait. nil uses Backoff.Wait.
	Sleep func(ctx context.Context, attempt int) error
}

// Supervisor owns the outer reconnect loop: it builds sessions through the
// factory and re-establishes them with capped exponential backoff, forever,
// until the context is cancelled.
type Supervisor struct {
	cfg SupervisorConfig
}

// NewSupervisor creates a supervisor around the given factory.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = defaultHealthyAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = observe.NewTracker(observe.DefaultMetrics())
	}
	if cfg.Sleep == nil {
		cfg.Sleep = cfg.Backoff.Wait
	}
	return &Supervisor{cfg: cfg}
}

// Run loops until ctx is cancelled. Session state never survives a restart:
// every iteration builds a fresh session and a partial utterance at
// disconnect time is simply lost.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		runner, err := s.cfg.Factory(ctx)
		if err != nil {
			s.cfg.Logger.Error("session setup failed", "attempt", attempt, "error", err)
		} else {
			if attempt > 0 {
				s.cfg.Tracker.RecordReconnect(ctx)
				s.cfg.Logger.Info("session re-established", "attempt", attempt)
			}
			err = runner.Run(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.cfg.Logger.Warn("session ended", "error", err, "lifetime", time.Since(start).Round(time.Second))
			if time.Since(start) >= s.cfg.HealthyAfter {
				attempt = 0
			}
		}

		s.cfg.Tracker.LogSummary(s.cfg.Logger)

		delay := s.cfg.Backoff.Delay(attempt)
		s.cfg.Logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)
		if err := s.cfg.Sleep(ctx, attempt); err != nil {
			return err
		}
		attempt++
	}
}
