// Package observe provides observability primitives for the talkback client:
// OpenTelemetry metrics, a lightweight counter tracker for the periodic log
// summary, and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkback metrics.
const meterName = "github.com/MrWong99/talkback"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the delay between flushing an utterance and
	// receiving its transcript.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// E2EDuration tracks end-of-speech to start-of-playback latency.
	E2EDuration metric.Float64Histogram

	// --- Counters ---

	// Transcriptions counts received final transcripts. Use with attribute:
	//   attribute.Bool("truncated", ...)
	Transcriptions metric.Int64Counter

	// Responses counts responses played back to completion.
	Responses metric.Int64Counter

	// SkippedTranscripts counts transcripts dropped without a response.
	// Use with attribute:
	//   attribute.String("reason", ...)
	SkippedTranscripts metric.Int64Counter

	// Reconnects counts STT session re-establishments.
	Reconnects metric.Int64Counter

	// CaptureOverruns counts frames dropped from the full capture queue.
	CaptureOverruns metric.Int64Counter

	// --- Error counters ---

	// STTErrors counts transcription failures and timeouts.
	STTErrors metric.Int64Counter

	// TTSErrors counts synthesis failures after retries.
	TTSErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("talkback.stt.duration",
		metric.WithDescription("Latency from utterance flush to transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("talkback.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.E2EDuration, err = m.Float64Histogram("talkback.e2e.duration",
		metric.WithDescription("End-of-speech to start-of-playback latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcriptions, err = m.Int64Counter("talkback.transcriptions",
		metric.WithDescription("Total final transcripts received, by truncation."),
	); err != nil {
		return nil, err
	}
	if met.Responses, err = m.Int64Counter("talkback.responses",
		metric.WithDescription("Total responses played back."),
	); err != nil {
		return nil, err
	}
	if met.SkippedTranscripts, err = m.Int64Counter("talkback.transcripts.skipped",
		metric.WithDescription("Total transcripts skipped without a response, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("talkback.reconnects",
		metric.WithDescription("Total STT session re-establishments."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverruns, err = m.Int64Counter("talkback.capture.overruns",
		metric.WithDescription("Total capture frames dropped due to a full queue."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.STTErrors, err = m.Int64Counter("talkback.stt.errors",
		metric.WithDescription("Total transcription failures and timeouts."),
	); err != nil {
		return nil, err
	}
	if met.TTSErrors, err = m.Int64Counter("talkback.tts.errors",
		metric.WithDescription("Total synthesis failures after retries."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
