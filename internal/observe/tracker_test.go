package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	m, _ := newTestMetrics(t)
	return NewTracker(m)
}

func TestTrackerSnapshot(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.RecordTranscription(ctx, 200*time.Millisecond, false)
	tr.RecordTranscription(ctx, 400*time.Millisecond, true)
	tr.RecordResponse(ctx, 1*time.Second, 2*time.Second)
	tr.RecordSkip(ctx, "cooldown")
	tr.RecordSTTError(ctx)
	tr.RecordTTSError(ctx)
	tr.AddOverruns(ctx, 7)
	tr.RecordReconnect(ctx)

	s := tr.Snapshot()
	if s.Transcriptions != 2 {
		t.Errorf("Transcriptions = %d, want 2", s.Transcriptions)
	}
	if s.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", s.Truncated)
	}
	if s.Responses != 1 {
		t.Errorf("Responses = %d, want 1", s.Responses)
	}
	if s.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", s.Skipped)
	}
	if s.STTErrors != 1 || s.TTSErrors != 1 {
		t.Errorf("errors = %d/%d, want 1/1", s.STTErrors, s.TTSErrors)
	}
	if s.Overruns != 7 {
		t.Errorf("Overruns = %d, want 7", s.Overruns)
	}
	if s.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", s.Reconnects)
	}
	if want := 300 * time.Millisecond; s.AvgSTTLatency != want {
		t.Errorf("AvgSTTLatency = %v, want %v", s.AvgSTTLatency, want)
	}
	if want := 1 * time.Second; s.AvgTTSLatency != want {
		t.Errorf("AvgTTSLatency = %v, want %v", s.AvgTTSLatency, want)
	}
	if want := 2 * time.Second; s.AvgE2ELatency != want {
		t.Errorf("AvgE2ELatency = %v, want %v", s.AvgE2ELatency, want)
	}
}

func TestTrackerEmptySnapshotHasZeroAverages(t *testing.T) {
	s := newTestTracker(t).Snapshot()
	if s.AvgSTTLatency != 0 || s.AvgTTSLatency != 0 || s.AvgE2ELatency != 0 {
		t.Errorf("empty snapshot has non-zero averages: %+v", s)
	}
}

func TestTrackerIgnoresNonPositiveOverruns(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddOverruns(context.Background(), 0)
	tr.AddOverruns(context.Background(), -3)
	if got := tr.Snapshot().Overruns; got != 0 {
		t.Errorf("Overruns = %d, want 0", got)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				tr.RecordTranscription(ctx, 10*time.Millisecond, false)
				tr.RecordSkip(ctx, "empty")
			}
		}()
	}
	wg.Wait()

	s := tr.Snapshot()
	if want := int64(goroutines * perGoroutine); s.Transcriptions != want {
		t.Errorf("Transcriptions = %d, want %d", s.Transcriptions, want)
	}
	if want := int64(goroutines * perGoroutine); s.Skipped != want {
		t.Errorf("Skipped = %d, want %d", s.Skipped, want)
	}
}

func TestLogSummaryContainsCounters(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordTranscription(context.Background(), 100*time.Millisecond, false)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr.LogSummary(logger)

	out := buf.String()
	for _, key := range []string{"transcriptions=1", "responses=0", "skipped=0", "avg_stt_latency=100ms"} {
		if !strings.Contains(out, key) {
			t.Errorf("summary %q missing %q", out, key)
		}
	}
}

func TestRunLoggerLogsFinalSummaryOnCancel(t *testing.T) {
	tr := newTestTracker(t)

	var mu sync.Mutex
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.RunLogger(ctx, logger, time.Hour)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunLogger did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "pipeline summary") {
		t.Errorf("no final summary logged, got %q", buf.String())
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
