// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis capability (a local Piper
// instance, a cloud API, the platform's native synthesiser) and presents a
// uniform streaming interface: Synthesize returns a channel of raw PCM audio
// chunks as they become available, enabling playback to begin before the
// full response has been rendered.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech audio and returns a channel that
	// emits raw 16-bit little-endian PCM chunks as they are synthesised.
	//
	// The returned channel is closed by the implementation when synthesis
	// completes or ctx is cancelled. The caller must drain the channel to
	// avoid blocking the provider's internal goroutines; cancelling ctx is
	// the way to abandon a playback early (barge-in).
	//
	// Returns a non-nil error only if synthesis cannot be started.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)

	// SampleRate returns the sample rate in Hz of the PCM audio this
	// provider emits.
	SampleRate() int
}
