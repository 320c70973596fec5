// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
)

// Compile-time assertion that NativeEngine satisfies recognizer.Engine.
var _ recognizer.Engine = (*NativeEngine)(nil)

// NativeEngine implements [recognizer.Engine] using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at construction and shared across all sessions.
type NativeEngine struct {
	model    whisperlib.Model
	language string

	// Same silence-detection parameters as the HTTP engine.
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(e *NativeEngine) { e.language = lang }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms)
// that triggers an utterance flush. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(e *NativeEngine) { e.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum buffered audio duration
// (ms) before a forced flush. Defaults to 10 000 ms.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(e *NativeEngine) { e.maxBufferDurationMs = ms }
}

// NewNative creates a NativeEngine that loads the whisper.cpp model from the
// given file path. The caller must call Close when the engine is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &NativeEngine{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model. Must be called when the engine is no
// longer needed.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Start opens a new recognition session. Each session creates its own
// whisper.cpp context from the shared model, so multiple sessions can run
// concurrently without interference.
func (e *NativeEngine) Start(ctx context.Context, cfg recognizer.Config) (recognizer.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = e.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		infer: func(_ context.Context, pcm []byte) (string, error) {
			return e.infer(pcm, lang, ch)
		},
		sampleRate:          sr,
		channels:            ch,
		interim:             cfg.InterimResults,
		silenceThresholdMs:  e.silenceThresholdMs,
		maxBufferDurationMs: e.maxBufferDurationMs,

		audioCh: make(chan []byte, 256),
		events:  make(chan recognizer.Event, 64),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// infer converts the buffered PCM audio to float32, runs whisper.cpp
// inference using a fresh context, and returns the concatenated text.
func (e *NativeEngine) infer(pcm []byte, lang string, channels int) (string, error) {
	samples := pcmToFloat32Mono(pcm, channels)

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines; create one context per inference.
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
