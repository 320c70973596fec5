package vad

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Session identifies one client run. The ID is generated once at startup,
// never changes, and is the correlation key sent to the backend on every
// connection attempt. The wake-armed flag is a one-way latch; the speaking
// flag toggles with every segment.
//
// The [Machine] is the sole writer of the mutable fields; everyone else
// observes them through [Machine.Snapshot].
type Session struct {
	// ID is the opaque session token.
	ID string

	wakeArmed bool
	speaking  bool
}

// NewSession creates a Session with a fresh random ID.
func NewSession() *Session {
	buf := make([]byte, 16)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	return &Session{ID: hex.EncodeToString(buf)}
}

// Segment is one finalized user utterance. All timestamps are relative to
// session start. Immutable once finalized, except for the transcript fields
// which are attached when the backend's transcription arrives.
type Segment struct {
	// Start is when the segment opened (first speech frame).
	Start time.Duration `json:"start"`

	// End is when the segment was finalized (silence timeout elapsed).
	End time.Duration `json:"end"`

	// Duration is End - Start.
	Duration time.Duration `json:"duration"`

	// Transcript is the backend's transcription of this segment, when known.
	Transcript string `json:"transcript,omitempty"`

	// Speaker is the diarization label for the segment, when the backend
	// reports one.
	Speaker string `json:"speaker,omitempty"`
}
