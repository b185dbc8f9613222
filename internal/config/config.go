// Package config provides the configuration schema and loader for the
// talkback client.
//
// All tuning thresholds of the audio pipeline live here and are read once at
// startup; the running pipeline treats them as immutable. Durations are
// expressed in the YAML file as float seconds (matching the thresholds the
// STT server documents) and surfaced to the rest of the program as
// [time.Duration] via accessor methods.
package config

import (
	"errors"
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	STT       STTConfig       `yaml:"stt"`
	Response  ResponseConfig  `yaml:"response"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the remote service endpoints.
type ServerConfig struct {
	// STTWebSocketURL is the streaming transcription endpoint
	// (e.g. "ws://127.0.0.1:8001/ws/stt").
	STTWebSocketURL string `yaml:"stt_ws_url"`

	// TTSURL is the speech-synthesis endpoint
	// (e.g. "http://127.0.0.1:8002/tts").
	TTSURL string `yaml:"tts_url"`
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	// SampleRate in Hz for the capture stream. The STT server expects 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame duration in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// InputDevice selects the capture device by exact name or
	// case-insensitive substring. Empty uses the system default.
	InputDevice string `yaml:"input_device"`

	// OutputDevice selects the playback device the same way.
	OutputDevice string `yaml:"output_device"`

	// QueueSize bounds the frame queue between the capture callback and the
	// pipeline; overflow drops the oldest frame.
	QueueSize int `yaml:"queue_size"`
}

// FrameDuration returns the capture frame duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// VADConfig holds the voice-activity-detection thresholds.
type VADConfig struct {
	// SilenceRMSThreshold classifies a frame as speech when its RMS energy
	// is at or above this value.
	SilenceRMSThreshold float64 `yaml:"silence_rms_threshold"`

	// SilenceMaxSeconds of trailing silence finalise an utterance.
	SilenceMaxSeconds float64 `yaml:"silence_max_seconds"`

	// MinUtteranceSeconds of accumulated speech below which an utterance is
	// discarded as noise.
	MinUtteranceSeconds float64 `yaml:"min_utterance_seconds"`

	// MaxUtteranceSeconds caps total utterance duration; reaching it
	// force-finalises the utterance as truncated. Should not exceed the STT
	// server's max_buffer_seconds.
	MaxUtteranceSeconds float64 `yaml:"max_utterance_seconds"`

	// UtteranceCooldownSeconds suppress new utterance starts after each
	// finalisation.
	UtteranceCooldownSeconds float64 `yaml:"utterance_cooldown_seconds"`
}

func (v VADConfig) SilenceMax() time.Duration        { return seconds(v.SilenceMaxSeconds) }
func (v VADConfig) MinUtterance() time.Duration      { return seconds(v.MinUtteranceSeconds) }
func (v VADConfig) MaxUtterance() time.Duration      { return seconds(v.MaxUtteranceSeconds) }
func (v VADConfig) UtteranceCooldown() time.Duration { return seconds(v.UtteranceCooldownSeconds) }

// STTConfig holds transcription-channel behaviour.
type STTConfig struct {
	// ReadyTimeoutSeconds bounds the wait for the server's ready handshake;
	// expiry is logged but not fatal.
	ReadyTimeoutSeconds float64 `yaml:"ready_timeout_seconds"`

	// ResponseTimeoutFactor scales an utterance's audio duration into the
	// transcript deadline: no transcript within duration × factor counts as
	// an STT error and the utterance is abandoned.
	ResponseTimeoutFactor float64 `yaml:"response_timeout_factor"`

	// ResponseTimeoutFloorSeconds is the minimum transcript deadline, so
	// very short utterances still get a reasonable wait.
	ResponseTimeoutFloorSeconds float64 `yaml:"response_timeout_floor_seconds"`

	// PingIntervalSeconds between WebSocket keepalive pings. 0 disables.
	PingIntervalSeconds float64 `yaml:"ping_interval_seconds"`
}

func (s STTConfig) ReadyTimeout() time.Duration         { return seconds(s.ReadyTimeoutSeconds) }
func (s STTConfig) ResponseTimeoutFloor() time.Duration { return seconds(s.ResponseTimeoutFloorSeconds) }
func (s STTConfig) PingInterval() time.Duration         { return seconds(s.PingIntervalSeconds) }

// ResponseConfig holds response-generation behaviour.
type ResponseConfig struct {
	// CooldownSeconds after a response's playback starts during which new
	// transcripts are skipped, so the bot does not react to its own audio.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`

	// RequestTimeoutSeconds is the ceiling on one TTS round trip.
	RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`

	// Voice optionally selects the TTS voice model (e.g. "en_US-glados-high").
	Voice string `yaml:"voice"`

	// Model optionally selects the LLM behind the TTS endpoint.
	Model string `yaml:"model"`

	// Personality optionally selects the personality prompt by name.
	Personality string `yaml:"personality"`
}

func (r ResponseConfig) Cooldown() time.Duration       { return seconds(r.CooldownSeconds) }
func (r ResponseConfig) RequestTimeout() time.Duration { return seconds(r.RequestTimeoutSeconds) }

// ReconnectConfig tunes the session reconnect backoff.
type ReconnectConfig struct {
	BackoffSeconds    float64 `yaml:"backoff_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffSeconds float64 `yaml:"max_backoff_seconds"`

	// Jitter is the fraction of each delay randomised around its computed
	// value, in [0, 1].
	Jitter float64 `yaml:"jitter"`
}

func (r ReconnectConfig) Backoff() time.Duration    { return seconds(r.BackoffSeconds) }
func (r ReconnectConfig) MaxBackoff() time.Duration { return seconds(r.MaxBackoffSeconds) }

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level LogLevel `yaml:"level"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// Enabled turns the periodic metrics summary log on or off.
	Enabled bool `yaml:"enabled"`

	// LogIntervalSeconds between summary log lines.
	LogIntervalSeconds float64 `yaml:"log_interval_seconds"`

	// ListenAddr, when non-empty, serves Prometheus /metrics and /healthz
	// on this address (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`
}

func (m MetricsConfig) LogInterval() time.Duration { return seconds(m.LogIntervalSeconds) }

// Default returns a configuration with every tunable at its documented
// default. Loading overlays the YAML file on top of these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			STTWebSocketURL: "ws://127.0.0.1:8001/ws/stt",
			TTSURL:          "http://127.0.0.1:8002/tts",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameMs:    20,
			QueueSize:  200,
		},
		VAD: VADConfig{
			SilenceRMSThreshold:      0.008,
			SilenceMaxSeconds:        0.7,
			MinUtteranceSeconds:      0.35,
			MaxUtteranceSeconds:      15,
			UtteranceCooldownSeconds: 1,
		},
		STT: STTConfig{
			ReadyTimeoutSeconds:         5,
			ResponseTimeoutFactor:       3,
			ResponseTimeoutFloorSeconds: 10,
			PingIntervalSeconds:         20,
		},
		Response: ResponseConfig{
			CooldownSeconds:       2,
			RequestTimeoutSeconds: 30,
		},
		Reconnect: ReconnectConfig{
			BackoffSeconds:    1,
			BackoffMultiplier: 2,
			MaxBackoffSeconds: 30,
			Jitter:            0.2,
		},
		Logging: LoggingConfig{Level: LogInfo},
		Metrics: MetricsConfig{
			Enabled:            true,
			LogIntervalSeconds: 30,
		},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found. Validation failures
// are fatal at startup only — a validated config never fails mid-session.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.STTWebSocketURL == "" {
		errs = append(errs, errors.New("server.stt_ws_url must not be empty"))
	}
	if cfg.Server.TTSURL == "" {
		errs = append(errs, errors.New("server.tts_url must not be empty"))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms must be positive, got %d", cfg.Audio.FrameMs))
	}
	if cfg.Audio.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size must be positive, got %d", cfg.Audio.QueueSize))
	}

	if cfg.VAD.SilenceRMSThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_rms_threshold must be positive, got %g", cfg.VAD.SilenceRMSThreshold))
	}
	if cfg.VAD.SilenceMaxSeconds <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_max_seconds must be positive, got %g", cfg.VAD.SilenceMaxSeconds))
	}
	if cfg.VAD.MinUtteranceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_utterance_seconds must be positive, got %g", cfg.VAD.MinUtteranceSeconds))
	}
	if cfg.VAD.MaxUtteranceSeconds <= cfg.VAD.MinUtteranceSeconds {
		errs = append(errs, fmt.Errorf("vad.max_utterance_seconds (%g) must exceed vad.min_utterance_seconds (%g)",
			cfg.VAD.MaxUtteranceSeconds, cfg.VAD.MinUtteranceSeconds))
	}
	if cfg.VAD.UtteranceCooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("vad.utterance_cooldown_seconds must not be negative, got %g", cfg.VAD.UtteranceCooldownSeconds))
	}

	if cfg.STT.ResponseTimeoutFactor <= 0 {
		errs = append(errs, fmt.Errorf("stt.response_timeout_factor must be positive, got %g", cfg.STT.ResponseTimeoutFactor))
	}

	if cfg.Response.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("response.cooldown_seconds must not be negative, got %g", cfg.Response.CooldownSeconds))
	}
	if cfg.Response.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("response.request_timeout_seconds must be positive, got %g", cfg.Response.RequestTimeoutSeconds))
	}

	if cfg.Reconnect.BackoffSeconds <= 0 {
		errs = append(errs, fmt.Errorf("reconnect.backoff_seconds must be positive, got %g", cfg.Reconnect.BackoffSeconds))
	}
	if cfg.Reconnect.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.backoff_multiplier must be at least 1, got %g", cfg.Reconnect.BackoffMultiplier))
	}
	if cfg.Reconnect.MaxBackoffSeconds < cfg.Reconnect.BackoffSeconds {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff_seconds (%g) must be at least reconnect.backoff_seconds (%g)",
			cfg.Reconnect.MaxBackoffSeconds, cfg.Reconnect.BackoffSeconds))
	}
	if cfg.Reconnect.Jitter < 0 || cfg.Reconnect.Jitter > 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter must be in [0, 1], got %g", cfg.Reconnect.Jitter))
	}

	if !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.LogIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("metrics.log_interval_seconds must be positive when metrics are enabled, got %g", cfg.Metrics.LogIntervalSeconds))
	}

	return errors.Join(errs...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
