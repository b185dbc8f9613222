// Package vad implements energy-based voice activity detection and utterance
// assembly for the talkback pipeline.
//
// The detector classifies each fixed-duration PCM frame as speech or silence
// by comparing its RMS energy against a configured threshold, and drives a
// three-phase state machine (idle → in-speech → trailing-silence) that
// assembles frames into utterances. Trailing silence is retained in the
// emitted utterance so the transcriber sees natural speech tails; utterances
// that never accumulate enough speech are discarded as transient noise.
//
// The detector advances a deterministic stream clock derived from the frame
// duration rather than wall time, so state transitions are exactly
// reproducible in tests. A single pipeline goroutine owns the detector; it is
// not safe for concurrent use.
package vad

import (
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

// Default thresholds, applied by New for zero config fields.
const (
	DefaultSilenceRMSThreshold = 0.008
	DefaultSilenceMax          = 700 * time.Millisecond
	DefaultMinUtterance        = 350 * time.Millisecond
	DefaultMaxUtterance        = 15 * time.Second
	DefaultUtteranceCooldown   = 1 * time.Second
)

// Phase is the detector's position in the utterance state machine.
type Phase int

const (
	// PhaseIdle means no utterance is active. Speech starts a new utterance
	// unless the post-utterance cooldown is still running.
	PhaseIdle Phase = iota

	// PhaseInSpeech means an utterance is active and the most recent frame
	// was speech.
	PhaseInSpeech

	// PhaseTrailingSilence means an utterance is active but silence is
	// accumulating; enough of it finalises the utterance.
	PhaseTrailingSilence
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInSpeech:
		return "in-speech"
	case PhaseTrailingSilence:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Config holds the detection thresholds. All durations are in stream time.
type Config struct {
	// FrameDuration is the fixed duration of every frame fed to Process.
	FrameDuration time.Duration

	// SilenceRMSThreshold classifies a frame as speech when its RMS energy
	// is at or above this value.
	SilenceRMSThreshold float64

	// SilenceMax is the trailing silence that finalises an utterance.
	SilenceMax time.Duration

	// MinUtterance is the accumulated speech below which a finalising
	// utterance is discarded as noise.
	MinUtterance time.Duration

	// MaxUtterance is the hard cap on total utterance duration. Reaching it
	// force-finalises the utterance as truncated without waiting for
	// trailing silence.
	MaxUtterance time.Duration

	// UtteranceCooldown suppresses new utterance starts for this long after
	// every finalisation or discard, so the detector does not immediately
	// re-trigger on residual audio.
	UtteranceCooldown time.Duration
}

// Utterance is one contiguous detected speech segment plus its retained
// trailing silence. Ownership transfers to the caller when Process returns it.
type Utterance struct {
	// Frames are the PCM16LE frames composing the utterance, in capture order.
	Frames [][]byte

	// Duration is the total utterance duration including retained silence.
	Duration time.Duration

	// SpeechDuration is the accumulated duration of speech-classified frames.
	SpeechDuration time.Duration

	// Truncated is true when the utterance hit the MaxUtterance cap.
	Truncated bool
}

// Result reports what Process decided for one frame.
type Result struct {
	// Started is true when this frame opened a new utterance.
	Started bool

	// InUtterance is true when the frame was appended to the active
	// utterance and should be streamed to the transcriber.
	InUtterance bool

	// Final is the completed utterance, set on the frame that finalised it.
	Final *Utterance

	// Discarded is set instead of Final when the closing utterance did not
	// accumulate MinUtterance of speech.
	Discarded *Utterance
}

// Detector is the VAD state machine. Exactly one live instance exists per
// audio session; it is reset (or replaced) on reconnect so no partial
// utterance survives across sessions.
type Detector struct {
	cfg Config

	phase         Phase
	pos           time.Duration // stream clock: end time of the last processed frame
	cooldownUntil time.Duration

	frames    [][]byte
	duration  time.Duration
	speechDur time.Duration
	trailing  time.Duration
}

// New creates a detector, substituting package defaults for zero thresholds.
func New(cfg Config) *Detector {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.SilenceRMSThreshold <= 0 {
		cfg.SilenceRMSThreshold = DefaultSilenceRMSThreshold
	}
	if cfg.SilenceMax <= 0 {
		cfg.SilenceMax = DefaultSilenceMax
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = DefaultMinUtterance
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	if cfg.UtteranceCooldown <= 0 {
		cfg.UtteranceCooldown = DefaultUtteranceCooldown
	}
	return &Detector{cfg: cfg}
}

// Phase returns the current state machine phase.
func (d *Detector) Phase() Phase { return d.phase }

// Pos returns the stream clock: total audio time processed so far.
func (d *Detector) Pos() time.Duration { return d.pos }

// Reset returns the detector to idle, dropping any partial utterance and any
// pending cooldown. Used when a session restarts.
func (d *Detector) Reset() {
	d.phase = PhaseIdle
	d.cooldownUntil = 0
	d.clear()
}

// Process advances the state machine by one frame and reports the decision.
// Frames must all have the configured duration; the stream clock advances by
// exactly one frame duration per call.
func (d *Detector) Process(frame []byte) Result {
	d.pos += d.cfg.FrameDuration
	speech := audio.RMS(frame) >= d.cfg.SilenceRMSThreshold

	switch d.phase {
	case PhaseIdle:
		if !speech || d.pos <= d.cooldownUntil {
			return Result{}
		}
		d.phase = PhaseInSpeech
		d.append(frame, speech)
		return Result{Started: true, InUtterance: true}

	case PhaseInSpeech:
		d.append(frame, speech)
		if !speech {
			d.phase = PhaseTrailingSilence
			d.trailing = d.cfg.FrameDuration
		}
		return d.afterAppend()

	case PhaseTrailingSilence:
		d.append(frame, speech)
		if speech {
			d.phase = PhaseInSpeech
			d.trailing = 0
			return d.afterAppend()
		}
		d.trailing += d.cfg.FrameDuration
		if d.trailing >= d.cfg.SilenceMax {
			return d.finalize(false)
		}
		return d.afterAppend()
	}
	return Result{}
}

// append adds the frame to the active utterance and advances its accounting.
func (d *Detector) append(frame []byte, speech bool) {
	d.frames = append(d.frames, frame)
	d.duration += d.cfg.FrameDuration
	if speech {
		d.speechDur += d.cfg.FrameDuration
	}
}

// afterAppend applies the hard duration cap to the active utterance.
func (d *Detector) afterAppend() Result {
	if d.duration >= d.cfg.MaxUtterance {
		return d.finalize(true)
	}
	return Result{InUtterance: true}
}

// finalize closes the active utterance, emitting it when it carries enough
// speech (or was force-truncated) and discarding it otherwise. Either way the
// detector returns to idle and the utterance cooldown starts.
func (d *Detector) finalize(truncated bool) Result {
	u := &Utterance{
		Frames:         d.frames,
		Duration:       d.duration,
		SpeechDuration: d.speechDur,
		Truncated:      truncated,
	}
	d.phase = PhaseIdle
	d.cooldownUntil = d.pos + d.cfg.UtteranceCooldown
	d.clear()

	if !truncated && u.SpeechDuration < d.cfg.MinUtterance {
		return Result{InUtterance: true, Discarded: u}
	}
	return Result{InUtterance: true, Final: u}
}

func (d *Detector) clear() {
	d.frames = nil
	d.duration = 0
	d.speechDur = 0
	d.trailing = 0
}
