// Package tts calls the response-generation endpoint: one HTTP POST carrying
// the transcript text, answered with WAV audio of the spoken reply plus the
// reply text in the X-Bot-Response header.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/talkback/internal/resilience"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxAttempts    = 3

	// botResponseHeader carries the reply text alongside the audio body.
	botResponseHeader = "X-Bot-Response"
)

// Config configures a [Client].
type Config struct {
	// URL is the synthesis endpoint, e.g. "http://127.0.0.1:8002/tts".
	URL string

	// RequestTimeout is the ceiling on one synthesis round trip.
	RequestTimeout time.Duration

	// MaxAttempts bounds retries on server errors and network failures.
	// Client errors (4xx) never retry.
	MaxAttempts int

	// Backoff paces the retries. Zero value uses the package defaults of
	// [resilience.Backoff].
	Backoff resilience.Backoff

	// Voice optionally selects the voice model, e.g. "en_US-glados-high".
	Voice string

	// Model optionally selects the LLM generating the reply.
	Model string

	// Personality optionally selects the personality prompt by name.
	Personality string

	// SpeakerID optionally selects a speaker in multi-speaker voice models.
	SpeakerID *int

	// LengthScale, NoiseScale and NoiseW optionally tune synthesis pacing
	// and variance.
	LengthScale *float64
	NoiseScale  *float64
	NoiseW      *float64

	Logger *slog.Logger

	// HTTPClient overrides the transport. Its Timeout is left untouched;
	// per-request deadlines come from RequestTimeout.
	HTTPClient *http.Client
}

// request is the JSON body of one synthesis call.
type request struct {
	Text        string   `json:"text"`
	Voice       string   `json:"voice,omitempty"`
	Model       string   `json:"model,omitempty"`
	Personality string   `json:"personality,omitempty"`
	SpeakerID   *int     `json:"speaker_id,omitempty"`
	LengthScale *float64 `json:"length_scale,omitempty"`
	NoiseScale  *float64 `json:"noise_scale,omitempty"`
	NoiseW      *float64 `json:"noise_w,omitempty"`
}

// Response is one successful synthesis result.
type Response struct {
	// WAV is the complete audio body.
	WAV []byte

	// BotResponse is the reply text from the X-Bot-Response header. May be
	// empty when the server omits it.
	BotResponse string
}

// Client calls the synthesis endpoint with bounded retries.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a synthesis client. cfg.URL must be non-empty.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("tts: URL must not be empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// statusError is a non-2xx synthesis response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryable reports whether the attempt may be repeated. Server-side and
// transport failures are transient; client errors are not.
func (e *statusError) retryable() bool { return e.code >= 500 }

// Synthesize posts text to the endpoint and returns the spoken reply. It
// retries transient failures up to the configured attempt limit; the caller
// sees only the final outcome.
func (c *Client) Synthesize(ctx context.Context, text string) (*Response, error) {
	body, err := json.Marshal(request{
		Text:        text,
		Voice:       c.cfg.Voice,
		Model:       c.cfg.Model,
		Personality: c.cfg.Personality,
		SpeakerID:   c.cfg.SpeakerID,
		LengthScale: c.cfg.LengthScale,
		NoiseScale:  c.cfg.NoiseScale,
		NoiseW:      c.cfg.NoiseW,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.cfg.Logger.Warn("retrying synthesis",
				"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "error", lastErr)
			if err := c.cfg.Backoff.Wait(ctx, attempt-2); err != nil {
				return nil, err
			}
		}

		resp, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("tts: synthesize: %w", lastErr)
}

// post performs one synthesis attempt.
func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(detail))}
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}
	if len(wav) == 0 {
		return nil, errors.New("empty audio body")
	}

	return &Response{
		WAV:         wav,
		BotResponse: resp.Header.Get(botResponseHeader),
	}, nil
}
