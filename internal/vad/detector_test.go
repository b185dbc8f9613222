package vad_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/vad"
)

const (
	frameDur   = 20 * time.Millisecond
	frameBytes = 640 // 320 samples of PCM16LE at 16kHz
)

// speechFrame is a 20ms sine burst well above the default RMS threshold.
func speechFrame() []byte {
	out := make([]byte, frameBytes)
	for i := 0; i < frameBytes/2; i++ {
		v := 0.5 * math.Sin(2*math.Pi*float64(i)/32)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func silenceFrame() []byte {
	return make([]byte, frameBytes)
}

func newDetector(t *testing.T, cfg vad.Config) *vad.Detector {
	t.Helper()
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = frameDur
	}
	return vad.New(cfg)
}

// feed pushes n copies of frame and returns the last non-empty outcome.
func feed(d *vad.Detector, frame []byte, n int) (finals, discards []*vad.Utterance) {
	for i := 0; i < n; i++ {
		r := d.Process(frame)
		if r.Final != nil {
			finals = append(finals, r.Final)
		}
		if r.Discarded != nil {
			discards = append(discards, r.Discarded)
		}
	}
	return finals, discards
}

func TestAllSilenceStaysIdle(t *testing.T) {
	d := newDetector(t, vad.Config{})

	for _, n := range []int{1, 50, 5000} {
		finals, discards := feed(d, silenceFrame(), n)
		if len(finals) != 0 || len(discards) != 0 {
			t.Fatalf("silence x%d: emitted %d finals, %d discards", n, len(finals), len(discards))
		}
		if d.Phase() != vad.PhaseIdle {
			t.Fatalf("silence x%d: phase %s, want idle", n, d.Phase())
		}
	}
}

func TestSpeechBurstEmitsOneUtterance(t *testing.T) {
	d := newDetector(t, vad.Config{})

	// 400ms of speech followed by 800ms of silence.
	finals, discards := feed(d, speechFrame(), 20)
	f2, d2 := feed(d, silenceFrame(), 40)
	finals = append(finals, f2...)
	discards = append(discards, d2...)

	if len(discards) != 0 {
		t.Fatalf("unexpected discards: %d", len(discards))
	}
	if len(finals) != 1 {
		t.Fatalf("finals: got %d, want exactly 1", len(finals))
	}

	u := finals[0]
	// 20 speech frames plus 35 retained trailing-silence frames (0.7s).
	if got, want := u.Duration, 1100*time.Millisecond; got != want {
		t.Errorf("duration: got %s, want %s", got, want)
	}
	if got, want := u.SpeechDuration, 400*time.Millisecond; got != want {
		t.Errorf("speech duration: got %s, want %s", got, want)
	}
	if got, want := len(u.Frames), 55; got != want {
		t.Errorf("frames: got %d, want %d", got, want)
	}
	if u.Truncated {
		t.Error("truncated: got true, want false")
	}
	if d.Phase() != vad.PhaseIdle {
		t.Errorf("phase after finalisation: %s, want idle", d.Phase())
	}
}

func TestShortBurstIsDiscarded(t *testing.T) {
	d := newDetector(t, vad.Config{})

	// 200ms of speech is below the 350ms minimum.
	finals, discards := feed(d, speechFrame(), 10)
	f2, d2 := feed(d, silenceFrame(), 40)
	finals = append(finals, f2...)
	discards = append(discards, d2...)

	if len(finals) != 0 {
		t.Fatalf("finals: got %d, want 0", len(finals))
	}
	if len(discards) != 1 {
		t.Fatalf("discards: got %d, want 1", len(discards))
	}
	if got, want := discards[0].SpeechDuration, 200*time.Millisecond; got != want {
		t.Errorf("discarded speech duration: got %s, want %s", got, want)
	}
	if d.Phase() != vad.PhaseIdle {
		t.Errorf("phase: %s, want idle", d.Phase())
	}
}

func TestMinSpeechBoundary(t *testing.T) {
	// Sweep burst lengths around the minimum: emitted iff speech ≥ 350ms.
	for frames := 5; frames <= 30; frames += 5 {
		d := newDetector(t, vad.Config{})
		finals, discards := feed(d, speechFrame(), frames)
		f2, d2 := feed(d, silenceFrame(), 40)
		finals = append(finals, f2...)
		discards = append(discards, d2...)

		speech := time.Duration(frames) * frameDur
		wantFinal := speech >= 350*time.Millisecond
		if wantFinal && (len(finals) != 1 || len(discards) != 0) {
			t.Errorf("%s burst: finals=%d discards=%d, want 1/0", speech, len(finals), len(discards))
		}
		if !wantFinal && (len(finals) != 0 || len(discards) != 1) {
			t.Errorf("%s burst: finals=%d discards=%d, want 0/1", speech, len(finals), len(discards))
		}
		for _, u := range finals {
			if u.SpeechDuration < 350*time.Millisecond {
				t.Errorf("emitted utterance with %s speech, below minimum", u.SpeechDuration)
			}
		}
	}
}

func TestPauseShorterThanSilenceMaxContinuesUtterance(t *testing.T) {
	d := newDetector(t, vad.Config{})

	// speech, a 400ms pause (below the 700ms cut), then more speech.
	feed(d, speechFrame(), 20)
	finals, discards := feed(d, silenceFrame(), 20)
	if len(finals)+len(discards) != 0 {
		t.Fatal("utterance closed during a pause shorter than silence_max")
	}
	if d.Phase() != vad.PhaseTrailingSilence {
		t.Fatalf("phase: %s, want trailing-silence", d.Phase())
	}

	feed(d, speechFrame(), 20)
	if d.Phase() != vad.PhaseInSpeech {
		t.Fatalf("phase after resumed speech: %s, want in-speech", d.Phase())
	}

	finals, _ = feed(d, silenceFrame(), 35)
	if len(finals) != 1 {
		t.Fatalf("finals: got %d, want 1", len(finals))
	}
	// 20 + 20 + 20 speech/pause frames plus 35 trailing frames.
	if got, want := finals[0].Duration, 95*frameDur; got != want {
		t.Errorf("duration: got %s, want %s", got, want)
	}
	if got, want := finals[0].SpeechDuration, 800*time.Millisecond; got != want {
		t.Errorf("speech duration: got %s, want %s", got, want)
	}
}

func TestMaxUtteranceForceFinalizes(t *testing.T) {
	d := newDetector(t, vad.Config{MaxUtterance: time.Second})

	var final *vad.Utterance
	frames := 0
	for i := 0; i < 200; i++ {
		frames++
		r := d.Process(speechFrame())
		if r.Final != nil {
			final = r.Final
			break
		}
	}

	if final == nil {
		t.Fatal("continuous speech never hit the duration cap")
	}
	if !final.Truncated {
		t.Error("truncated: got false, want true")
	}
	if got, want := final.Duration, time.Second; got != want {
		t.Errorf("duration: got %s, want %s", got, want)
	}
	if got, want := frames, 50; got != want {
		t.Errorf("finalised after %d frames, want %d", got, want)
	}
	if d.Phase() != vad.PhaseIdle {
		t.Errorf("phase: %s, want idle", d.Phase())
	}
}

func TestMaxUtteranceDuringTrailingSilence(t *testing.T) {
	// The cap also applies while silence is accumulating.
	d := newDetector(t, vad.Config{MaxUtterance: time.Second, SilenceMax: 2 * time.Second})

	feed(d, speechFrame(), 30)
	finals, _ := feed(d, silenceFrame(), 30)
	if len(finals) != 1 {
		t.Fatalf("finals: got %d, want 1", len(finals))
	}
	if !finals[0].Truncated {
		t.Error("truncated: got false, want true")
	}
}

func TestUtteranceCooldownSuppressesStarts(t *testing.T) {
	d := newDetector(t, vad.Config{UtteranceCooldown: time.Second})

	// Complete one utterance.
	feed(d, speechFrame(), 20)
	finals, _ := feed(d, silenceFrame(), 35)
	if len(finals) != 1 {
		t.Fatalf("setup: finals=%d, want 1", len(finals))
	}

	// Speech within the 1s cooldown must not start an utterance.
	for i := 0; i < 50; i++ { // exactly 1s of frames
		r := d.Process(speechFrame())
		if r.Started || r.InUtterance {
			t.Fatalf("frame %d inside cooldown started an utterance", i)
		}
	}

	// The next speech frame is past the cooldown.
	r := d.Process(speechFrame())
	if !r.Started {
		t.Error("speech after cooldown did not start an utterance")
	}
}

func TestCooldownAppliesAfterDiscardToo(t *testing.T) {
	d := newDetector(t, vad.Config{UtteranceCooldown: time.Second})

	feed(d, speechFrame(), 5) // discarded as too short
	_, discards := feed(d, silenceFrame(), 35)
	if len(discards) != 1 {
		t.Fatalf("setup: discards=%d, want 1", len(discards))
	}

	r := d.Process(speechFrame())
	if r.Started {
		t.Error("utterance started inside post-discard cooldown")
	}
}

func TestResetDropsPartialUtterance(t *testing.T) {
	d := newDetector(t, vad.Config{})

	feed(d, speechFrame(), 30)
	if d.Phase() != vad.PhaseInSpeech {
		t.Fatalf("setup: phase %s", d.Phase())
	}

	d.Reset()
	if d.Phase() != vad.PhaseIdle {
		t.Errorf("phase after reset: %s, want idle", d.Phase())
	}

	// The dropped partial must not leak into the next utterance.
	feed(d, speechFrame(), 20)
	finals, _ := feed(d, silenceFrame(), 35)
	if len(finals) != 1 {
		t.Fatalf("finals: got %d, want 1", len(finals))
	}
	if got, want := finals[0].Duration, 1100*time.Millisecond; got != want {
		t.Errorf("post-reset duration: got %s, want %s (partial leaked)", got, want)
	}
}

func TestStreamClockAdvancesPerFrame(t *testing.T) {
	d := newDetector(t, vad.Config{})
	feed(d, silenceFrame(), 100)
	if got, want := d.Pos(), 2*time.Second; got != want {
		t.Errorf("stream clock: got %s, want %s", got, want)
	}
}
