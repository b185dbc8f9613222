package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/wav"
)

// Player plays a complete WAV clip through an output device, blocking until
// playback finishes or the context is cancelled.
type Player interface {
	Play(ctx context.Context, wavData []byte) error
}

// Clip is decoded PCM16LE audio ready for playback.
type Clip struct {
	Data       []byte // interleaved PCM16LE
	SampleRate int
	Channels   int
}

// Duration returns the play time of the clip.
func (c *Clip) Duration() time.Duration {
	samples := len(c.Data) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// DecodeWAV parses a 16-bit WAV file into a playable [Clip].
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: invalid WAV data")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode WAV: %w", err)
	}
	if buf.SourceBitDepth != 16 {
		return nil, fmt.Errorf("audio: unsupported WAV bit depth %d", buf.SourceBitDepth)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return &Clip{
		Data:       pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// DevicePlayer implements [Player] on a platform output device selected by
// exact name or case-insensitive substring, falling back to the default
// output device.
type DevicePlayer struct {
	ctx      *Context
	selector string
}

// NewPlayer creates a player on the shared audio context.
func NewPlayer(ctx *Context, deviceSelector string) *DevicePlayer {
	return &DevicePlayer{ctx: ctx, selector: deviceSelector}
}

// Play decodes and plays wavData, blocking until the clip has been fully
// rendered or ctx is cancelled. The output device is opened per call and
// released deterministically before returning.
func (p *DevicePlayer) Play(ctx context.Context, wavData []byte) error {
	clip, err := DecodeWAV(wavData)
	if err != nil {
		return err
	}

	playbackDevs, err := p.ctx.PlaybackDevices()
	if err != nil {
		return err
	}
	captureDevs, _ := p.ctx.CaptureDevices()

	dev, ok := selectDevice(playbackDevs, captureDevs, p.selector, "playback")
	if !ok {
		return fmt.Errorf("audio: open playback device: %w", ErrNoDevices)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(clip.Channels)
	devCfg.Playback.DeviceID = dev.id.Pointer()
	devCfg.SampleRate = uint32(clip.SampleRate)

	var (
		pos  int
		once sync.Once
		done = make(chan struct{})
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n := copy(output, clip.Data[pos:])
			pos += n
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
			if pos >= len(clip.Data) {
				once.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(p.ctx.mctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("audio: init playback device %q: %w", dev.Name, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("audio: start playback device %q: %w", dev.Name, err)
	}

	select {
	case <-done:
		// Let the backend drain its last period before tearing down.
		time.Sleep(50 * time.Millisecond)
	case <-ctx.Done():
	}
	_ = device.Stop()
	return ctx.Err()
}
