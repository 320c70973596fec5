package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] for fields left at their zero value.
const (
	DefaultWSPath          = "/ws/audio"
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultFrameMs         = 20
	DefaultSensitivity     = 0.5
	DefaultBaseSilenceRMS  = 0.01
	DefaultBaseSpeechRMS   = 0.02
	DefaultSilenceDuration = Duration(700 * time.Millisecond)
	DefaultBargeInFactor   = 1.5
	DefaultTriggerWord     = "start"
	DefaultFuzzyThreshold  = 0.88

	DefaultDialTimeout         = Duration(10 * time.Second)
	DefaultReconnectDelay      = Duration(2 * time.Second)
	DefaultReconnectMultiplier = 1.5
	DefaultMaxReconnectDelay   = Duration(30 * time.Second)
	DefaultMaxReconnectRetries = 10
)

// DefaultWakePhrases is the built-in wake-phrase list: the canonical phrase
// plus spelling variants that absorb common recognizer mishearings.
var DefaultWakePhrases = []string{
	"hey ai",
	"hey a i",
	"hey eye",
	"hay ai",
	"hey i",
	"heyai",
	"hey, ai",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Backend.WSPath == "" {
		cfg.Backend.WSPath = DefaultWSPath
	}
	if cfg.Client.Environment == "" {
		cfg.Client.Environment = EnvDevelopment
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.VAD.Sensitivity == 0 {
		cfg.VAD.Sensitivity = DefaultSensitivity
	}
	if cfg.VAD.BaseSilenceRMS == 0 {
		cfg.VAD.BaseSilenceRMS = DefaultBaseSilenceRMS
	}
	if cfg.VAD.BaseSpeechRMS == 0 {
		cfg.VAD.BaseSpeechRMS = DefaultBaseSpeechRMS
	}
	if cfg.VAD.SilenceDuration == 0 {
		cfg.VAD.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.VAD.BargeInFactor == 0 {
		cfg.VAD.BargeInFactor = DefaultBargeInFactor
	}
	if cfg.Wake.TriggerWord == "" {
		cfg.Wake.TriggerWord = DefaultTriggerWord
	}
	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = append([]string(nil), DefaultWakePhrases...)
	}
	if cfg.Wake.FuzzyThreshold == 0 {
		cfg.Wake.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = DefaultDialTimeout
	}
	if cfg.Transport.ReconnectDelay == 0 {
		cfg.Transport.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Transport.ReconnectMultiplier == 0 {
		cfg.Transport.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if cfg.Transport.MaxReconnectDelay == 0 {
		cfg.Transport.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.Transport.MaxReconnectAttempts == 0 {
		cfg.Transport.MaxReconnectAttempts = DefaultMaxReconnectRetries
	}
	if cfg.Recognizer.Language == "" {
		cfg.Recognizer.Language = "en"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", cfg.Backend.BaseURL))
	}

	if !cfg.Client.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("client.environment %q is invalid; valid values: development, production", cfg.Client.Environment))
	}
	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}

	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is below the 8000 Hz minimum", cfg.Audio.SampleRate))
	}

	if cfg.VAD.Sensitivity < 0 || cfg.VAD.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("vad.sensitivity %.2f is out of range [0, 1]", cfg.VAD.Sensitivity))
	}
	if cfg.VAD.BaseSilenceRMS >= cfg.VAD.BaseSpeechRMS {
		errs = append(errs, fmt.Errorf("vad.base_silence_rms %.4f must be below vad.base_speech_rms %.4f", cfg.VAD.BaseSilenceRMS, cfg.VAD.BaseSpeechRMS))
	}
	if cfg.VAD.BargeInFactor < 1 {
		errs = append(errs, fmt.Errorf("vad.barge_in_factor %.2f must be at least 1", cfg.VAD.BargeInFactor))
	}

	if cfg.Transport.ReconnectMultiplier < 1 {
		errs = append(errs, fmt.Errorf("transport.reconnect_multiplier %.2f must be at least 1", cfg.Transport.ReconnectMultiplier))
	}
	if cfg.Transport.MaxReconnectDelay < cfg.Transport.ReconnectDelay {
		errs = append(errs, errors.New("transport.max_reconnect_delay must not be below transport.reconnect_delay"))
	}
	if cfg.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.max_reconnect_attempts %d must not be negative", cfg.Transport.MaxReconnectAttempts))
	}

	switch cfg.Recognizer.Name {
	case "", "whisper", "whisper-native":
	default:
		errs = append(errs, fmt.Errorf("recognizer.name %q is invalid; valid values: whisper, whisper-native", cfg.Recognizer.Name))
	}
	if cfg.Recognizer.Name == "whisper" && cfg.Recognizer.ServerURL == "" {
		errs = append(errs, errors.New("recognizer.server_url is required for the whisper recognizer"))
	}
	if cfg.Recognizer.Name == "whisper-native" && cfg.Recognizer.ModelPath == "" {
		errs = append(errs, errors.New("recognizer.model_path is required for the whisper-native recognizer"))
	}

	return errors.Join(errs...)
}

// EffectiveLogLevel resolves the log verbosity: an explicit client.log_level
// wins; otherwise production maps to info and everything else to debug.
func (c *Config) EffectiveLogLevel() LogLevel {
	if c.Client.LogLevel != "" {
		return c.Client.LogLevel
	}
	if c.Client.Environment == EnvProduction {
		return LogInfo
	}
	return LogDebug
}
