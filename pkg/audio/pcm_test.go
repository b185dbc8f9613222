package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

// pcmSine builds n samples of a full-scale-scaled sine wave as PCM16LE.
func pcmSine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/32)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func TestRMS_Silence(t *testing.T) {
	if got := audio.RMS(audio.SilenceFrame(640)); got != 0 {
		t.Errorf("RMS of silence: got %v, want 0", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS of nil: got %v, want 0", got)
	}
	// A single stray byte has no complete sample.
	if got := audio.RMS([]byte{0x7f}); got != 0 {
		t.Errorf("RMS of odd buffer: got %v, want 0", got)
	}
}

func TestRMS_SineAmplitude(t *testing.T) {
	// RMS of a sine wave is amplitude / sqrt(2).
	for _, amp := range []float64{0.1, 0.5, 0.9} {
		got := audio.RMS(pcmSine(320, amp))
		want := amp / math.Sqrt2
		if math.Abs(got-want) > 0.01 {
			t.Errorf("RMS of %.1f sine: got %.4f, want %.4f", amp, got, want)
		}
	}
}

func TestRMS_QuietVsSpeechThreshold(t *testing.T) {
	// The default silence threshold must separate near-silence from a
	// moderate tone.
	const threshold = 0.008
	if got := audio.RMS(pcmSine(320, 0.005)); got >= threshold {
		t.Errorf("quiet signal RMS %.4f should be below threshold %.3f", got, threshold)
	}
	if got := audio.RMS(pcmSine(320, 0.1)); got < threshold {
		t.Errorf("speech-level RMS %.4f should be above threshold %.3f", got, threshold)
	}
}

func TestFrameBytes(t *testing.T) {
	tests := []struct {
		rate int
		dur  time.Duration
		want int
	}{
		{16000, 20 * time.Millisecond, 640},
		{16000, 30 * time.Millisecond, 960},
		{48000, 20 * time.Millisecond, 1920},
	}
	for _, tt := range tests {
		if got := audio.FrameBytes(tt.rate, tt.dur); got != tt.want {
			t.Errorf("FrameBytes(%d, %s): got %d, want %d", tt.rate, tt.dur, got, tt.want)
		}
	}
}
