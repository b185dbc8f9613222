package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrDeviceStopped is reported when the capture device stops delivering audio
// outside of an explicit Stop call (unplugged, claimed by another process).
var ErrDeviceStopped = errors.New("audio: capture device stopped")

// CaptureConfig configures a [Capturer].
type CaptureConfig struct {
	// SampleRate in Hz. The capture stream is always mono PCM16LE.
	SampleRate int

	// FrameDuration is the fixed duration of each emitted frame.
	FrameDuration time.Duration

	// DeviceSelector picks the input device by exact name or case-insensitive
	// substring. Empty selects the platform default.
	DeviceSelector string

	// QueueSize bounds the frame queue between the capture callback and the
	// pipeline. When full, the oldest frame is dropped and counted.
	QueueSize int

	// GapTimeout is how long the stream may go without device data before
	// zero-filled substitute frames are inserted to preserve cadence.
	// Defaults to 5 frame durations.
	GapTimeout time.Duration

	// DeviceTimeout is how long a gap may last before the device is declared
	// lost and [ErrDeviceStopped] is surfaced. Defaults to 2s.
	DeviceTimeout time.Duration
}

// Capturer produces a continuous sequence of fixed-duration PCM frames from
// an input device. The capture callback only re-chunks and enqueues — all
// classification happens in the consuming pipeline task, keeping the
// real-time callback free of blocking work.
//
// Short device glitches are bridged with zero-filled frames so downstream
// timing invariants hold; a prolonged gap or a backend stop notification
// surfaces on [Capturer.Errors] and ends the stream.
type Capturer struct {
	ctx   *Context
	cfg   CaptureConfig
	queue *FrameQueue
	errs  chan error

	frameBytes int

	mu      sync.Mutex
	device  *malgo.Device
	partial []byte
	started bool

	lastData atomic.Int64 // unix nanos of last device callback
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCapturer creates a capturer on the shared audio context. Start must be
// called before frames are produced.
func NewCapturer(ctx *Context, cfg CaptureConfig) *Capturer {
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = 5 * cfg.FrameDuration
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 200
	}
	return &Capturer{
		ctx:        ctx,
		cfg:        cfg,
		queue:      NewFrameQueue(cfg.QueueSize),
		errs:       make(chan error, 1),
		frameBytes: FrameBytes(cfg.SampleRate, cfg.FrameDuration),
		done:       make(chan struct{}),
	}
}

// Start selects the input device and begins capture.
func (c *Capturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("audio: capturer already started")
	}

	captureDevs, err := c.ctx.CaptureDevices()
	if err != nil {
		return err
	}
	playbackDevs, _ := c.ctx.PlaybackDevices()

	dev, ok := selectDevice(captureDevs, playbackDevs, c.cfg.DeviceSelector, "capture")
	if !ok {
		return fmt.Errorf("audio: open capture device: %w", ErrNoDevices)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Capture.DeviceID = dev.id.Pointer()
	devCfg.SampleRate = uint32(c.cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(c.frameBytes / 2)

	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	}

	device, err := malgo.InitDevice(c.ctx.mctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("audio: init capture device %q: %w", dev.Name, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audio: start capture device %q: %w", dev.Name, err)
	}

	c.device = device
	c.started = true
	c.lastData.Store(time.Now().UnixNano())

	c.wg.Add(1)
	go c.watchGaps()

	slog.Info("audio capture started",
		"device", dev.Name,
		"sample_rate", c.cfg.SampleRate,
		"frame_duration", c.cfg.FrameDuration,
	)
	return nil
}

// Read blocks until the next frame is available. The second return value is
// false once the capturer has been stopped and the queue drained.
func (c *Capturer) Read() (Frame, bool) {
	return c.queue.Pop()
}

// Errors delivers at most one fatal capture error.
func (c *Capturer) Errors() <-chan error {
	return c.errs
}

// Overruns returns the number of frames dropped because the pipeline fell
// behind the device.
func (c *Capturer) Overruns() int64 {
	return c.queue.Overruns()
}

// Stop halts capture and releases the device. Safe to call multiple times.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		device := c.device
		c.device = nil
		c.mu.Unlock()

		if device != nil {
			_ = device.Stop()
			device.Uninit()
		}
		c.queue.Close()
		c.wg.Wait()
		slog.Info("audio capture stopped")
	})
}

// onData runs on the device's real-time thread: re-chunk incoming PCM into
// exact fixed-size frames and enqueue them without blocking.
func (c *Capturer) onData(_, input []byte, _ uint32) {
	c.lastData.Store(time.Now().UnixNano())

	c.mu.Lock()
	c.partial = append(c.partial, input...)
	for len(c.partial) >= c.frameBytes {
		data := make([]byte, c.frameBytes)
		copy(data, c.partial[:c.frameBytes])
		c.partial = c.partial[c.frameBytes:]
		c.queue.Push(Frame{Data: data, Timestamp: time.Now()})
	}
	c.mu.Unlock()
}

// onStop runs when the backend stops the device for any reason. An explicit
// Stop has already closed done, so only unexpected stops surface as errors.
func (c *Capturer) onStop() {
	select {
	case <-c.done:
	default:
		c.reportError(ErrDeviceStopped)
	}
}

// watchGaps substitutes zero-filled frames when the device goes quiet so the
// VAD clock keeps advancing, and declares the device lost after DeviceTimeout.
func (c *Capturer) watchGaps() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FrameDuration)
	defer ticker.Stop()

	inGap := false
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			gap := now.Sub(time.Unix(0, c.lastData.Load()))
			if gap < c.cfg.GapTimeout {
				inGap = false
				continue
			}
			if !inGap {
				inGap = true
				slog.Warn("audio capture gap, substituting silence", "gap", gap)
			}
			if gap >= c.cfg.DeviceTimeout {
				c.reportError(fmt.Errorf("%w: no data for %s", ErrDeviceStopped, gap))
				return
			}
			c.queue.Push(Frame{
				Data:      SilenceFrame(c.frameBytes),
				Timestamp: now,
				Synthetic: true,
			})
		}
	}
}

func (c *Capturer) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
