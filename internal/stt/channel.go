package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/coder/websocket"
)

const (
	defaultReadyTimeout         = 5 * time.Second
	defaultResponseTimeoutFloor = 10 * time.Second
	defaultTimeoutFactor        = 3
)

// Config configures a transcription [Channel].
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:8001/ws/stt".
	URL string

	// ReadyTimeout bounds the wait for the server's ready handshake. Expiry
	// is logged as a warning but does not fail the channel; the server
	// accepts audio regardless.
	ReadyTimeout time.Duration

	// ResponseTimeoutFactor scales a flushed utterance's audio duration
	// into its transcript deadline.
	ResponseTimeoutFactor float64

	// ResponseTimeoutFloor is the minimum transcript deadline.
	ResponseTimeoutFloor time.Duration

	// PingInterval between keepalive pings. 0 disables pings.
	PingInterval time.Duration

	Logger  *slog.Logger
	Tracker *observe.Tracker
}

// outMsg is one queued outbound WebSocket message.
type outMsg struct {
	kind websocket.MessageType
	data []byte
}

// pendingFlush tracks one flushed utterance awaiting its transcript.
type pendingFlush struct {
	detectedAt    time.Time
	flushedAt     time.Time
	audioDuration time.Duration
	truncated     bool
	timer         *time.Timer
}

// Channel is a live transcription session over one WebSocket connection.
// Safe for concurrent use; the send and receive directions operate
// independently.
type Channel struct {
	cfg  Config
	conn *websocket.Conn

	outbound chan outMsg
	results  chan Result
	errs     chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu         sync.Mutex
	pending    []*pendingFlush
	readyTimer *time.Timer
}

// Dial opens a transcription channel to cfg.URL. The given ctx governs the
// dial and the lifetime of the channel's background loops; cancelling it
// unblocks all channel I/O.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ResponseTimeoutFactor <= 0 {
		cfg.ResponseTimeoutFactor = defaultTimeoutFactor
	}
	if cfg.ResponseTimeoutFloor <= 0 {
		cfg.ResponseTimeoutFloor = defaultResponseTimeoutFloor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = observe.NewTracker(observe.DefaultMetrics())
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stt: dial %s: %w", cfg.URL, err)
	}

	c := &Channel{
		cfg:      cfg,
		conn:     conn,
		outbound: make(chan outMsg, 256),
		results:  make(chan Result, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	c.readyTimer = time.AfterFunc(cfg.ReadyTimeout, func() {
		cfg.Logger.Warn("no ready handshake from transcription server",
			"url", cfg.URL, "timeout", cfg.ReadyTimeout)
	})

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	if cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(ctx)
	}

	return c, nil
}

// SendAudio queues one PCM16LE frame for delivery to the server.
func (c *Channel) SendAudio(frame []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.outbound <- outMsg{kind: websocket.MessageBinary, data: frame}:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Flush asks the server to finalise the audio streamed since the previous
// flush. detectedAt is the end-of-speech instant, audioDuration the length
// of the streamed utterance, truncated whether the local utterance cap cut
// it short. The transcript deadline is audioDuration scaled by the
// configured factor, floored; on expiry the utterance is abandoned and an
// STT error recorded.
func (c *Channel) Flush(detectedAt time.Time, audioDuration time.Duration, truncated bool) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	p := &pendingFlush{
		detectedAt:    detectedAt,
		flushedAt:     time.Now(),
		audioDuration: audioDuration,
		truncated:     truncated,
	}
	p.timer = time.AfterFunc(c.transcriptDeadline(audioDuration), func() {
		c.expire(p)
	})

	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	select {
	case c.outbound <- outMsg{kind: websocket.MessageText, data: []byte(flushSentinel)}:
		return nil
	case <-c.done:
		c.remove(p)
		return ErrChannelClosed
	}
}

// Results returns the channel of delivered transcripts. It is closed when
// the connection ends.
func (c *Channel) Results() <-chan Result { return c.results }

// Errors returns a channel that receives the first fatal connection error.
func (c *Channel) Errors() <-chan error { return c.errs }

// Close terminates the channel and releases the connection. Safe to call
// more than once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.readyTimer.Stop()

		c.mu.Lock()
		for _, p := range c.pending {
			p.timer.Stop()
		}
		c.pending = nil
		c.mu.Unlock()

		c.conn.Close(websocket.StatusNormalClosure, "session closed")
		c.wg.Wait()
	})
	return nil
}

func (c *Channel) transcriptDeadline(audioDuration time.Duration) time.Duration {
	d := time.Duration(c.cfg.ResponseTimeoutFactor * float64(audioDuration))
	if d < c.cfg.ResponseTimeoutFloor {
		d = c.cfg.ResponseTimeoutFloor
	}
	return d
}

// expire abandons a flushed utterance whose transcript never arrived.
func (c *Channel) expire(p *pendingFlush) {
	if !c.remove(p) {
		return
	}
	c.cfg.Logger.Warn("transcript deadline expired, abandoning utterance",
		"audio_duration", p.audioDuration,
		"waited", time.Since(p.flushedAt).Round(time.Millisecond))
	c.cfg.Tracker.RecordSTTError(context.Background())
}

// remove drops p from the pending list. Reports whether it was still there.
func (c *Channel) remove(p *pendingFlush) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// fatal reports the first fatal connection error.
func (c *Channel) fatal(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errs <- err:
	default:
	}
}

// writeLoop drains the outbound queue onto the connection, preserving the
// audio-then-flush ordering the server relies on.
func (c *Channel) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.outbound:
			if err := c.conn.Write(ctx, m.kind, m.data); err != nil {
				c.fatal(fmt.Errorf("stt: write: %w", err))
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from the server and dispatches them.
func (c *Channel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.results)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.fatal(fmt.Errorf("stt: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.cfg.Logger.Warn("undecodable message from transcription server", "error", err)
			continue
		}

		switch msg.Type {
		case msgReady:
			c.readyTimer.Stop()
			c.cfg.Logger.Debug("transcription server ready", "sample_rate", msg.SampleRate)

		case msgTranscript:
			c.handleTranscript(ctx, msg)

		case msgBufferLimit:
			// Not an error: the server cut the utterance short and will
			// still deliver its transcript.
			c.cfg.Logger.Info("server buffer limit reached",
				"duration", time.Duration(msg.Duration*float64(time.Second)))
			c.mu.Lock()
			if len(c.pending) > 0 {
				c.pending[0].truncated = true
			}
			c.mu.Unlock()

		case msgFlushed:
			c.cfg.Logger.Debug("server acknowledged flush")

		case msgError:
			c.cfg.Logger.Error("transcription server error", "detail", msg.Detail)
			c.cfg.Tracker.RecordSTTError(ctx)
			c.abandonHead()

		default:
			c.cfg.Logger.Warn("unknown message type from transcription server", "type", msg.Type)
		}
	}
}

// handleTranscript matches a transcript to the oldest pending flush and
// delivers it. Transcripts arrive in flush order because the stream is a
// single ordered connection.
func (c *Channel) handleTranscript(ctx context.Context, msg serverMessage) {
	now := time.Now()
	res := Result{
		Text:          msg.Text,
		AudioDuration: time.Duration(msg.Duration * float64(time.Second)),
		Partial:       msg.KeepOpen,
	}

	c.mu.Lock()
	if len(c.pending) > 0 {
		p := c.pending[0]
		res.Truncated = p.truncated
		res.DetectedAt = p.detectedAt
		res.Latency = now.Sub(p.flushedAt)
		if msg.KeepOpen {
			// More audio expected for the same utterance, keep the flush
			// pending with a fresh deadline.
			p.timer.Reset(c.transcriptDeadline(p.audioDuration))
		} else {
			p.timer.Stop()
			c.pending = c.pending[1:]
		}
	}
	c.mu.Unlock()

	if !res.Partial {
		c.cfg.Tracker.RecordTranscription(ctx, res.Latency, res.Truncated)
	}

	select {
	case c.results <- res:
	case <-c.done:
	}
}

// abandonHead drops the oldest pending flush after a server error.
func (c *Channel) abandonHead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	c.pending[0].timer.Stop()
	c.pending = c.pending[1:]
}

// pingLoop keeps the connection alive across idle stretches.
func (c *Channel) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.fatal(fmt.Errorf("stt: ping: %w", err))
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
