package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
backend:
  base_url: http://localhost:8000
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Backend.WSPath != "/ws/audio" {
		t.Errorf("WSPath = %q", cfg.Backend.WSPath)
	}
	if cfg.Client.Environment != EnvDevelopment {
		t.Errorf("Environment = %q", cfg.Client.Environment)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.FrameMs != 20 {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
	if cfg.VAD.Sensitivity != 0.5 {
		t.Errorf("Sensitivity = %v", cfg.VAD.Sensitivity)
	}
	if cfg.VAD.BaseSilenceRMS != 0.01 || cfg.VAD.BaseSpeechRMS != 0.02 {
		t.Errorf("base thresholds = %v / %v", cfg.VAD.BaseSilenceRMS, cfg.VAD.BaseSpeechRMS)
	}
	if cfg.VAD.SilenceDuration.Std() != 700*time.Millisecond {
		t.Errorf("SilenceDuration = %v", cfg.VAD.SilenceDuration)
	}
	if cfg.VAD.BargeInFactor != 1.5 {
		t.Errorf("BargeInFactor = %v", cfg.VAD.BargeInFactor)
	}
	if cfg.Wake.TriggerWord != "start" {
		t.Errorf("TriggerWord = %q", cfg.Wake.TriggerWord)
	}
	if len(cfg.Wake.Phrases) != len(DefaultWakePhrases) {
		t.Errorf("Phrases = %v", cfg.Wake.Phrases)
	}
	if cfg.Wake.FuzzyThreshold != 0.88 {
		t.Errorf("FuzzyThreshold = %v", cfg.Wake.FuzzyThreshold)
	}
	if cfg.Transport.DialTimeout.Std() != 10*time.Second {
		t.Errorf("DialTimeout = %v", cfg.Transport.DialTimeout)
	}
	if cfg.Transport.ReconnectDelay.Std() != 2*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.Transport.ReconnectDelay)
	}
	if cfg.Transport.MaxReconnectDelay.Std() != 30*time.Second {
		t.Errorf("MaxReconnectDelay = %v", cfg.Transport.MaxReconnectDelay)
	}
	if cfg.Transport.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.Transport.MaxReconnectAttempts)
	}
	if cfg.Recognizer.Language != "en" {
		t.Errorf("Language = %q", cfg.Recognizer.Language)
	}
}

func TestLoadFromReader_ExplicitValuesKept(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
backend:
  base_url: https://voice.example.com
  ws_path: /stream
client:
  environment: production
  text_only: true
vad:
  sensitivity: 0.8
  silence_duration: 1s
wake:
  trigger_word: computer
  phrases: ["ok computer"]
transport:
  reconnect_delay: 500ms
  max_reconnect_attempts: 3
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Backend.WSPath != "/stream" {
		t.Errorf("WSPath = %q", cfg.Backend.WSPath)
	}
	if !cfg.Client.TextOnly {
		t.Error("TextOnly not set")
	}
	if cfg.VAD.Sensitivity != 0.8 {
		t.Errorf("Sensitivity = %v", cfg.VAD.Sensitivity)
	}
	if cfg.VAD.SilenceDuration.Std() != time.Second {
		t.Errorf("SilenceDuration = %v", cfg.VAD.SilenceDuration)
	}
	if cfg.Wake.TriggerWord != "computer" {
		t.Errorf("TriggerWord = %q", cfg.Wake.TriggerWord)
	}
	if len(cfg.Wake.Phrases) != 1 || cfg.Wake.Phrases[0] != "ok computer" {
		t.Errorf("Phrases = %v", cfg.Wake.Phrases)
	}
	if cfg.Transport.ReconnectDelay.Std() != 500*time.Millisecond {
		t.Errorf("ReconnectDelay = %v", cfg.Transport.ReconnectDelay)
	}
	if cfg.Transport.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.Transport.MaxReconnectAttempts)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
backend:
  base_url: http://localhost:8000
  websocket_path: /ws/audio
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if !strings.Contains(err.Error(), "websocket_path") {
		t.Errorf("error does not name the unknown field: %v", err)
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
backend:
  base_url: "::not-a-url"
client:
  environment: staging
  log_level: loud
audio:
  channels: 3
vad:
  sensitivity: 2
  barge_in_factor: 0.5
recognizer:
  name: whisper
`))
	if err == nil {
		t.Fatal("invalid config accepted")
	}

	// One joined error naming every failure.
	for _, want := range []string{
		"backend.base_url",
		"client.environment",
		"client.log_level",
		"audio.channels",
		"vad.sensitivity",
		"vad.barge_in_factor",
		"recognizer.server_url",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
backend:
  base_url: http://localhost:8000
vad:
  base_silence_rms: 0.05
  base_speech_rms: 0.02
`))
	if err == nil || !strings.Contains(err.Error(), "base_silence_rms") {
		t.Errorf("silence >= speech accepted: %v", err)
	}
}

func TestValidate_RecognizerRequirements(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"whisper needs server_url",
			"recognizer:\n  name: whisper\n",
			"recognizer.server_url",
		},
		{
			"whisper-native needs model_path",
			"recognizer:\n  name: whisper-native\n",
			"recognizer.model_path",
		},
		{
			"unknown engine",
			"recognizer:\n  name: deepgram\n",
			"recognizer.name",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(minimalYAML + tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestDuration_RejectsUnparseable(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
backend:
  base_url: http://localhost:8000
vad:
  silence_duration: soon
`))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("unparseable duration accepted: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestEffectiveLogLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want LogLevel
	}{
		{"explicit override wins", Config{Client: ClientConfig{Environment: EnvProduction, LogLevel: LogError}}, LogError},
		{"production default", Config{Client: ClientConfig{Environment: EnvProduction}}, LogInfo},
		{"development default", Config{Client: ClientConfig{Environment: EnvDevelopment}}, LogDebug},
		{"unset environment", Config{}, LogDebug},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.EffectiveLogLevel(); got != tc.want {
				t.Errorf("EffectiveLogLevel = %q, want %q", got, tc.want)
			}
		})
	}
}
