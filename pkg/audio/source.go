// Package audio defines the types and interfaces for audio capture within
// the recorder client.
//
// The central abstraction is [Source] — a microphone or other live audio
// input that delivers a stream of [Frame] values. Implementations wrap
// platform capture facilities (PortAudio, ALSA, a WebRTC track, a test
// fixture); the pipeline is decoupled from the capture mechanism.
//
// This package lives under pkg/ because external code (alternative capture
// adapters) is expected to implement [Source].
package audio

import "context"

// Source is a live audio input.
//
// A Source is singly-owned: at most one capture stream may be open at a time
// per device, and a new Source must only be created after the prior one's
// Close has returned. Implementations must be safe for concurrent use.
type Source interface {
	// Start begins capture and returns a channel delivering [Frame] values as
	// they are read from the device. The channel is closed when capture ends —
	// either because Close was called or because the device became
	// unavailable. In the latter case Err reports the cause.
	//
	// Calling Start a second time while capture is running returns an error.
	Start(ctx context.Context) (<-chan Frame, error)

	// Err returns the terminal capture error, if any. A non-nil result after
	// the frame channel closes means the device failed (unplugged, permission
	// revoked); nil means capture ended by request.
	Err() error

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}
