package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of a PCM16LE buffer with samples
// normalised to [-1, 1]. An empty or odd-length buffer yields 0.
//
// RMS is the decision statistic for speech/silence classification: values for
// typical microphone silence sit well below 0.01, while speech peaks an order
// of magnitude higher.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// SilenceFrame returns a zero-filled PCM16LE frame of size bytes. Used both
// as the gap substitute during capture glitches and as padding the STT server
// can use to close out an utterance.
func SilenceFrame(size int) []byte {
	return make([]byte, size)
}
