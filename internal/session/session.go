// Package session runs the live audio pipeline: one [Session] wires a frame
// source, the voice activity detector, the transcription channel and the
// response coordinator together, and the [Supervisor] re-establishes
// sessions with backoff when they fail.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/stt"
	"github.com/MrWong99/talkback/internal/vad"
	"github.com/MrWong99/talkback/pkg/audio"
)

// FrameSource delivers captured audio frames. Implemented by
// [audio.Capturer].
type FrameSource interface {
	// Read blocks for the next frame; ok is false once the source stopped
	// and drained.
	Read() (audio.Frame, bool)

	// Errors receives fatal device errors.
	Errors() <-chan error

	// Overruns returns the running count of dropped frames.
	Overruns() int64

	// Stop releases the device and unblocks Read.
	Stop()
}

// TranscriptStream is the duplex transcription connection. Implemented by
// [stt.Channel].
type TranscriptStream interface {
	SendAudio(frame []byte) error
	Flush(detectedAt time.Time, audioDuration time.Duration, truncated bool) error
	Results() <-chan stt.Result
	Errors() <-chan error
	Close() error
}

// ResultHandler consumes delivered transcripts. Implemented by
// [respond.Coordinator].
type ResultHandler interface {
	Handle(ctx context.Context, res stt.Result)
}

// Config wires one [Session].
type Config struct {
	Source   FrameSource
	Stream   TranscriptStream
	Detector *vad.Detector
	Handler  ResultHandler

	Logger  *slog.Logger
	Tracker *observe.Tracker
}

// Session drives one connected pipeline instance. A session ends on context
// cancellation, device failure or connection loss; it is never reused. The
// supervisor builds a fresh one (with a fresh detector, so no partial
// utterance carries over) for every reconnect.
type Session struct {
	cfg Config
}

// New creates a session from its wired components.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = observe.NewTracker(observe.DefaultMetrics())
	}
	return &Session{cfg: cfg}
}

// Run executes the pipeline until the context is cancelled or a fatal error
// occurs. The source and stream are torn down before Run returns.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Teardown: cancellation (external or via a failing task) stops the
	// source, which unblocks the sender, and closes the stream, which ends
	// the receiver.
	g.Go(func() error {
		<-ctx.Done()
		s.cfg.Source.Stop()
		s.cfg.Stream.Close()
		return nil
	})

	g.Go(func() error { return s.sendLoop(ctx) })
	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.watchErrors(ctx) })

	return g.Wait()
}

// sendLoop drains captured frames through the detector and streams active
// utterances to the transcriber.
func (s *Session) sendLoop(ctx context.Context) error {
	var reportedOverruns int64
	for {
		frame, ok := s.cfg.Source.Read()
		if !ok {
			return nil
		}

		if n := s.cfg.Source.Overruns(); n > reportedOverruns {
			s.cfg.Tracker.AddOverruns(ctx, n-reportedOverruns)
			s.cfg.Logger.Warn("capture queue overrun", "dropped_total", n)
			reportedOverruns = n
		}

		res := s.cfg.Detector.Process(frame.Data)
		if res.Started {
			s.cfg.Logger.Debug("utterance started")
		}
		if res.InUtterance {
			if err := s.cfg.Stream.SendAudio(frame.Data); err != nil {
				if errors.Is(err, stt.ErrChannelClosed) {
					return nil
				}
				return fmt.Errorf("session: send audio: %w", err)
			}
		}

		switch {
		case res.Final != nil:
			u := res.Final
			s.cfg.Logger.Info("utterance finalised",
				"duration", u.Duration,
				"speech_duration", u.SpeechDuration,
				"truncated", u.Truncated)
			if err := s.cfg.Stream.Flush(time.Now(), u.Duration, u.Truncated); err != nil {
				if errors.Is(err, stt.ErrChannelClosed) {
					return nil
				}
				return fmt.Errorf("session: flush: %w", err)
			}
		case res.Discarded != nil:
			s.cfg.Logger.Debug("utterance discarded as noise",
				"duration", res.Discarded.Duration,
				"speech_duration", res.Discarded.SpeechDuration)
		}
	}
}

// receiveLoop feeds delivered transcripts to the handler.
func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		select {
		case res, ok := <-s.cfg.Stream.Results():
			if !ok {
				return nil
			}
			s.cfg.Handler.Handle(ctx, res)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watchErrors surfaces the first fatal source or stream error, failing the
// session.
func (s *Session) watchErrors(ctx context.Context) error {
	select {
	case err := <-s.cfg.Source.Errors():
		return fmt.Errorf("session: audio source: %w", err)
	case err := <-s.cfg.Stream.Errors():
		return fmt.Errorf("session: transcription stream: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}
