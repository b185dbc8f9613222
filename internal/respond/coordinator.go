// Package respond turns final transcripts into spoken replies: it invokes
// the synthesis endpoint, plays the returned audio, and enforces the
// response cooldown so the bot does not answer its own playback.
package respond

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/stt"
	"github.com/MrWong99/talkback/internal/tts"
	"github.com/MrWong99/talkback/pkg/audio"
)

// Synthesizer produces spoken audio for a transcript. Implemented by
// [tts.Client].
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*tts.Response, error)
}

// Config configures a [Coordinator].
type Config struct {
	// Cooldown is the window after a response's playback start during which
	// new transcripts are skipped.
	Cooldown time.Duration

	Logger  *slog.Logger
	Tracker *observe.Tracker

	// Now overrides the clock. nil uses [time.Now].
	Now func() time.Time
}

// Coordinator serialises response generation. One transcript is handled at a
// time; while a reply is being synthesised and played, later transcripts
// wait their turn and are then subject to the cooldown check.
type Coordinator struct {
	synth  Synthesizer
	player audio.Player
	cfg    Config

	// lastResponse is the playback start of the most recent successful
	// response. Guarded by the serialised Handle path.
	lastResponse time.Time
}

// New creates a coordinator playing synthesised replies through player.
func New(synth Synthesizer, player audio.Player, cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = observe.NewTracker(observe.DefaultMetrics())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{synth: synth, player: player, cfg: cfg}
}

// Handle processes one transcript. Partial results and empty text are
// dropped; transcripts inside the response cooldown are skipped; everything
// else produces a spoken reply. Failures are recorded and logged, never
// returned: losing one response must not stall the pipeline.
func (c *Coordinator) Handle(ctx context.Context, res stt.Result) {
	if res.Partial {
		c.cfg.Logger.Debug("ignoring partial transcript", "text", res.Text)
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		c.cfg.Logger.Debug("skipping empty transcript")
		c.cfg.Tracker.RecordSkip(ctx, "empty")
		return
	}

	now := c.cfg.Now()
	if !c.lastResponse.IsZero() && now.Sub(c.lastResponse) < c.cfg.Cooldown {
		c.cfg.Logger.Debug("skipping transcript inside response cooldown",
			"text", text, "since_last_response", now.Sub(c.lastResponse))
		c.cfg.Tracker.RecordSkip(ctx, "cooldown")
		return
	}

	c.cfg.Logger.Info("generating response", "text", text, "truncated", res.Truncated)

	synthStart := c.cfg.Now()
	reply, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		c.cfg.Logger.Error("synthesis failed", "error", err)
		c.cfg.Tracker.RecordTTSError(ctx)
		return
	}
	ttsLatency := c.cfg.Now().Sub(synthStart)

	playbackStart := c.cfg.Now()
	if err := c.player.Play(ctx, reply.WAV); err != nil {
		c.cfg.Logger.Error("playback failed", "error", err)
		c.cfg.Tracker.RecordTTSError(ctx)
		return
	}

	// The cooldown window opens at playback start, not completion, so the
	// tail of a long reply does not extend it.
	c.lastResponse = playbackStart

	var e2e time.Duration
	if !res.DetectedAt.IsZero() {
		e2e = playbackStart.Sub(res.DetectedAt)
	}
	c.cfg.Tracker.RecordResponse(ctx, ttsLatency, e2e)

	c.cfg.Logger.Info("response played",
		"reply", reply.BotResponse,
		"tts_latency", ttsLatency.Round(time.Millisecond),
		"e2e_latency", e2e.Round(time.Millisecond))
}
