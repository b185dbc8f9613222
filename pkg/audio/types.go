// Package audio provides the platform audio layer for the talkback client:
// PCM16LE capture with fixed-cadence framing, bounded frame queues with a
// drop-oldest overrun policy, device enumeration with substring selection,
// and WAV playback.
//
// All capture and playback is little-endian 16-bit signed PCM. Capture is
// always mono at the configured sample rate; playback follows the format of
// the WAV data handed to it.
package audio

import "time"

// Frame is a single fixed-duration chunk of PCM16LE mono audio captured from
// the input device. Frames are the atomic unit of the pipeline — a frame is
// produced once by the capturer and consumed exactly once by the VAD stage.
type Frame struct {
	// Data is raw PCM16LE mono sample data. Its length is fixed per stream:
	// sampleRate × frameDuration × 2 bytes.
	Data []byte

	// Timestamp marks when the frame was captured.
	Timestamp time.Time

	// Synthetic is true when the frame is a zero-filled substitute inserted
	// to preserve cadence across a device glitch.
	Synthetic bool
}

// FrameBytes returns the size in bytes of one PCM16LE mono frame of the
// given duration at the given sample rate.
func FrameBytes(sampleRate int, frameDuration time.Duration) int {
	samples := int(int64(sampleRate) * frameDuration.Nanoseconds() / int64(time.Second))
	return samples * 2
}
