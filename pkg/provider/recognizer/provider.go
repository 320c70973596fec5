// Package recognizer defines the Engine interface for continuous
// speech-recognition capabilities.
//
// A recognizer wraps a restartable transcription engine (a whisper.cpp
// server, a cloud streaming API, an on-device model) and exposes a uniform
// event contract: once started, a session accepts raw PCM audio and emits a
// stream of [Event] values — interim and final transcription results,
// classified errors, and a terminal end event. The wake-word detector and
// the text-only transcription path are both built on this contract.
//
// Implementations must be safe for concurrent use. A single [Session] may be
// fed audio from one goroutine while another drains its event channel.
package recognizer

import "context"

// Config describes the audio format and recognition hints for a new session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// engines). Implementations may downmix internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// An empty string lets the engine auto-detect, if supported.
	Language string

	// InterimResults requests low-latency partial transcripts in addition to
	// finals. Engines that cannot produce true partials may emit a partial
	// and a final carrying the same text.
	InterimResults bool
}

// Session represents one live recognition run. It is an interface so that
// test code can supply scriptable implementations without a live engine.
//
// Callers must call Stop when the session is no longer needed; failing to do
// so may leak goroutines inside the implementation.
type Session interface {
	// SendAudio delivers a chunk of raw PCM audio for recognition. The chunk
	// must match the SampleRate and Channels agreed in Config. Calling
	// SendAudio after Stop returns an error.
	SendAudio(chunk []byte) error

	// Events returns the session's event stream. The channel delivers
	// [Event] values in occurrence order and is closed after the terminal
	// [EventEnd] has been delivered. Callers must drain it.
	Events() <-chan Event

	// Stop requests an orderly shutdown: buffered audio is flushed, a final
	// result may still be emitted, then [EventEnd] is delivered and the
	// event channel closes. Safe to call more than once; subsequent calls
	// are no-ops and return nil.
	Stop() error
}

// Engine is the factory for recognition sessions.
//
// Implementations must be safe for concurrent use; Start may be called again
// after a prior session has stopped (the capability is restartable).
type Engine interface {
	// Start opens a new recognition session. The returned Session is ready
	// to accept audio immediately.
	//
	// Returns an error if the session cannot be established (engine missing
	// from the runtime, authentication failure, ctx already cancelled).
	Start(ctx context.Context, cfg Config) (Session, error)
}
