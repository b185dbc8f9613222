package observe

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Tracker records pipeline events both into OTel instruments and into a set
// of process-local counters used for the periodic log summary. All methods
// are safe for concurrent use.
type Tracker struct {
	metrics *Metrics

	transcriptions atomic.Int64
	truncated      atomic.Int64
	responses      atomic.Int64
	skipped        atomic.Int64
	sttErrors      atomic.Int64
	ttsErrors      atomic.Int64
	overruns       atomic.Int64
	reconnects     atomic.Int64

	// Latency sums in nanoseconds, for the summary averages.
	sttLatencySum atomic.Int64
	ttsLatencySum atomic.Int64
	e2eLatencySum atomic.Int64
}

// Summary is a point-in-time copy of the tracker counters.
type Summary struct {
	Transcriptions int64
	Truncated      int64
	Responses      int64
	Skipped        int64
	STTErrors      int64
	TTSErrors      int64
	Overruns       int64
	Reconnects     int64

	// Average latencies over everything recorded so far. Zero when nothing
	// was recorded.
	AvgSTTLatency time.Duration
	AvgTTSLatency time.Duration
	AvgE2ELatency time.Duration
}

// NewTracker returns a Tracker recording into the given instruments.
func NewTracker(m *Metrics) *Tracker {
	return &Tracker{metrics: m}
}

// RecordTranscription records a received final transcript together with the
// flush-to-transcript latency.
func (t *Tracker) RecordTranscription(ctx context.Context, latency time.Duration, truncated bool) {
	t.transcriptions.Add(1)
	if truncated {
		t.truncated.Add(1)
	}
	t.sttLatencySum.Add(int64(latency))
	t.metrics.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("truncated", truncated)))
	t.metrics.STTDuration.Record(ctx, latency.Seconds())
}

// RecordResponse records a successfully started response playback with its
// synthesis latency and the end-of-speech to start-of-playback latency.
func (t *Tracker) RecordResponse(ctx context.Context, ttsLatency, e2e time.Duration) {
	t.responses.Add(1)
	t.ttsLatencySum.Add(int64(ttsLatency))
	t.e2eLatencySum.Add(int64(e2e))
	t.metrics.Responses.Add(ctx, 1)
	t.metrics.TTSDuration.Record(ctx, ttsLatency.Seconds())
	t.metrics.E2EDuration.Record(ctx, e2e.Seconds())
}

// RecordSkip records a transcript that was dropped without a response.
func (t *Tracker) RecordSkip(ctx context.Context, reason string) {
	t.skipped.Add(1)
	t.metrics.SkippedTranscripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSTTError records a transcription failure or timeout.
func (t *Tracker) RecordSTTError(ctx context.Context) {
	t.sttErrors.Add(1)
	t.metrics.STTErrors.Add(ctx, 1)
}

// RecordTTSError records a synthesis failure after retries.
func (t *Tracker) RecordTTSError(ctx context.Context) {
	t.ttsErrors.Add(1)
	t.metrics.TTSErrors.Add(ctx, 1)
}

// AddOverruns records frames dropped from the full capture queue.
func (t *Tracker) AddOverruns(ctx context.Context, n int64) {
	if n <= 0 {
		return
	}
	t.overruns.Add(n)
	t.metrics.CaptureOverruns.Add(ctx, n)
}

// RecordReconnect records an STT session re-establishment.
func (t *Tracker) RecordReconnect(ctx context.Context) {
	t.reconnects.Add(1)
	t.metrics.Reconnects.Add(ctx, 1)
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Summary {
	s := Summary{
		Transcriptions: t.transcriptions.Load(),
		Truncated:      t.truncated.Load(),
		Responses:      t.responses.Load(),
		Skipped:        t.skipped.Load(),
		STTErrors:      t.sttErrors.Load(),
		TTSErrors:      t.ttsErrors.Load(),
		Overruns:       t.overruns.Load(),
		Reconnects:     t.reconnects.Load(),
	}
	if s.Transcriptions > 0 {
		s.AvgSTTLatency = time.Duration(t.sttLatencySum.Load() / s.Transcriptions)
	}
	if s.Responses > 0 {
		s.AvgTTSLatency = time.Duration(t.ttsLatencySum.Load() / s.Responses)
		s.AvgE2ELatency = time.Duration(t.e2eLatencySum.Load() / s.Responses)
	}
	return s
}

// LogSummary writes one summary line with the current counters.
func (t *Tracker) LogSummary(logger *slog.Logger) {
	s := t.Snapshot()
	logger.Info("pipeline summary",
		"transcriptions", s.Transcriptions,
		"truncated", s.Truncated,
		"responses", s.Responses,
		"skipped", s.Skipped,
		"stt_errors", s.STTErrors,
		"tts_errors", s.TTSErrors,
		"overruns", s.Overruns,
		"reconnects", s.Reconnects,
		"avg_stt_latency", s.AvgSTTLatency.Round(time.Millisecond),
		"avg_tts_latency", s.AvgTTSLatency.Round(time.Millisecond),
		"avg_e2e_latency", s.AvgE2ELatency.Round(time.Millisecond),
	)
}

// RunLogger logs a summary every interval until ctx is cancelled, then logs
// one final summary before returning.
func (t *Tracker) RunLogger(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.LogSummary(logger)
			return
		case <-ticker.C:
			t.LogSummary(logger)
		}
	}
}
