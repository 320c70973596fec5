// Package config provides the configuration schema and loader for the
// VAD recorder client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that decodes from Go duration strings in
// YAML ("700ms", "10s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar value")
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration in Go's duration syntax.
func (d Duration) String() string { return time.Duration(d).String() }

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

// Environment tags the deployment environment. It affects log verbosity
// only: production defaults to info, everything else to debug.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// IsValid reports whether e is a recognised environment tag.
func (e Environment) IsValid() bool {
	return e == EnvDevelopment || e == EnvProduction
}

// Config is the root configuration structure for the recorder client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Client     ClientConfig     `yaml:"client"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Wake       WakeConfig       `yaml:"wake"`
	Transport  TransportConfig  `yaml:"transport"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	TTS        TTSConfig        `yaml:"tts"`
}

// BackendConfig identifies the backend the client streams to.
type BackendConfig struct {
	// BaseURL is the backend's HTTP base URL (e.g., "http://localhost:8000").
	// Required.
	BaseURL string `yaml:"base_url"`

	// WSPath is the path of the duplex streaming endpoint. Defaults to
	// "/ws/audio".
	WSPath string `yaml:"ws_path"`
}

// ClientConfig holds process-level settings.
type ClientConfig struct {
	// Environment tags the deployment environment; affects log verbosity only.
	Environment Environment `yaml:"environment"`

	// LogLevel overrides the environment-derived verbosity when set.
	LogLevel LogLevel `yaml:"log_level"`

	// StatusAddr is the TCP address of the local diagnostics server
	// (/healthz, /readyz, /metrics, /status). Empty disables it.
	StatusAddr string `yaml:"status_addr"`

	// TextOnly switches the client to text-only mode: final recognizer
	// transcripts are POSTed to the backend's /transcription endpoint and no
	// audio is streamed.
	TextOnly bool `yaml:"text_only"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo. Defaults to 1.
	Channels int `yaml:"channels"`

	// FrameMs is the capture frame duration in milliseconds. Defaults to 20.
	FrameMs int `yaml:"frame_ms"`
}

// VADConfig holds the voice-activity detection tuning parameters. All RMS
// values are on the normalized [0,1] scale (full-scale 16-bit PCM = 1.0).
type VADConfig struct {
	// Sensitivity scales both thresholds, range [0,1]. Defaults to 0.5.
	// Effective thresholds:
	//   silence = base_silence_rms * (1 + sensitivity)
	//   speech  = base_speech_rms  * (1 + 2*sensitivity)
	Sensitivity float64 `yaml:"sensitivity"`

	// BaseSilenceRMS is the unscaled silence floor. Defaults to 0.01.
	BaseSilenceRMS float64 `yaml:"base_silence_rms"`

	// BaseSpeechRMS is the unscaled speech threshold. Defaults to 0.02.
	BaseSpeechRMS float64 `yaml:"base_speech_rms"`

	// SilenceDuration is how long loudness must stay below the speech
	// threshold before an open segment is finalized. Defaults to 700ms.
	SilenceDuration Duration `yaml:"silence_duration"`

	// BargeInFactor multiplies the speech threshold while response audio is
	// playing; only louder speech interrupts playback. Defaults to 1.5.
	BargeInFactor float64 `yaml:"barge_in_factor"`
}

// WakeConfig configures the wake-phrase matcher.
type WakeConfig struct {
	// TriggerWord is the standalone trigger, matched as the leading token of
	// an utterance. Defaults to "start".
	TriggerWord string `yaml:"trigger_word"`

	// Phrases are the alternate wake phrases, including deliberate
	// misspelling variants that absorb recognizer noise. A phrase matches
	// only within the first 30 characters of the transcript. Defaults to the
	// built-in "hey ai" variant list.
	Phrases []string `yaml:"phrases"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity for the fuzzy
	// backstop behind the variant list. Defaults to 0.88.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// TransportConfig bounds the streaming transport's connection behaviour.
type TransportConfig struct {
	// DialTimeout bounds one connection attempt. Defaults to 10s.
	DialTimeout Duration `yaml:"dial_timeout"`

	// ReconnectDelay is the initial backoff after an abnormal closure.
	// Defaults to 2s.
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// ReconnectMultiplier grows the backoff per failed attempt. Defaults to 1.5.
	ReconnectMultiplier float64 `yaml:"reconnect_multiplier"`

	// MaxReconnectDelay caps the backoff. Defaults to 30s.
	MaxReconnectDelay Duration `yaml:"max_reconnect_delay"`

	// MaxReconnectAttempts bounds retries before a terminal error is
	// surfaced. Defaults to 10.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// RecognizerConfig selects the speech-recognition engine backing the
// wake-word detector.
type RecognizerConfig struct {
	// Name selects the engine: "whisper" (HTTP server), "whisper-native"
	// (CGO bindings), or "" to disable wake-word detection (manual trigger
	// mode).
	Name string `yaml:"name"`

	// ServerURL is the whisper-server base URL (whisper engine only).
	ServerURL string `yaml:"server_url"`

	// ModelPath is the model file path (whisper-native engine only).
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 recognition language. Defaults to "en".
	Language string `yaml:"language"`
}

// TTSConfig selects the synthesis backend for response playback.
type TTSConfig struct {
	// Name selects the provider. "" disables playback (responses are
	// surfaced as text only).
	Name string `yaml:"name"`

	// ServerURL is the synthesis server base URL, for HTTP-backed providers.
	ServerURL string `yaml:"server_url"`
}
