// Package stt maintains the streaming transcription channel: a persistent
// WebSocket connection over which captured audio is sent as binary PCM16LE
// frames and transcripts come back as JSON messages.
//
// The channel is full duplex. Audio keeps streaming while earlier utterances
// await their transcripts, and transcripts are delivered in the order their
// audio was flushed. A [Channel] is bound to one connection; after a fatal
// connection error it is discarded and the session supervisor dials a new one.
package stt

import (
	"errors"
	"time"
)

// Wire message types sent by the transcription server.
const (
	msgReady       = "ready"
	msgTranscript  = "transcript"
	msgBufferLimit = "buffer_limit_reached"
	msgFlushed     = "flushed"
	msgError       = "error"
)

// flushSentinel is the text control message that forces server-side
// finalisation of the buffered audio.
const flushSentinel = "flush"

// serverMessage is the JSON envelope for every message from the server.
type serverMessage struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	KeepOpen bool    `json:"keep_open,omitempty"`
	SampleRate int   `json:"sr,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// Result is one delivered transcript.
type Result struct {
	// Text is the transcribed text. May be empty or whitespace-only, the
	// consumer decides whether to act on it.
	Text string

	// AudioDuration is the server-reported duration of the transcribed audio.
	AudioDuration time.Duration

	// Truncated reports that the utterance was cut short, either by the
	// local utterance cap or by the server's buffer limit.
	Truncated bool

	// Partial reports that the server expects more audio for the same
	// utterance (keep_open). Partial results never trigger a response.
	Partial bool

	// DetectedAt is the end-of-speech instant of the utterance this
	// transcript belongs to. Zero when the server finalised on its own and
	// no flush was pending.
	DetectedAt time.Time

	// Latency is the delay between flushing the utterance and receiving
	// this transcript. Zero when no flush was pending.
	Latency time.Duration
}

// ErrChannelClosed is returned by operations on a closed [Channel].
var ErrChannelClosed = errors.New("stt: channel is closed")
