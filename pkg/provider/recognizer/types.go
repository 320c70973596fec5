package recognizer

import "time"

// EventType discriminates the values carried by [Event].
type EventType int

const (
	// EventResult carries a transcription result, interim or final.
	EventResult EventType = iota

	// EventEnd is the terminal event of a session. Exactly one is delivered
	// per session, after which the event channel closes.
	EventEnd

	// EventError carries a classified engine error. The session may or may
	// not continue afterwards; see [ErrorCode] for the taxonomy.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventResult:
		return "RESULT"
	case EventEnd:
		return "END"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode classifies recognition engine failures. The taxonomy mirrors the
// failure modes of continuous recognition engines: some codes are expected
// restart noise, some are retryable, and some are terminal for the session.
type ErrorCode string

const (
	// ErrAborted means the engine stopped because it was asked to, or was
	// pre-empted by a restart. Expected noise — never surfaced to the user.
	ErrAborted ErrorCode = "aborted"

	// ErrNoSpeech means the engine gave up after hearing nothing. Expected
	// noise on a quiet channel.
	ErrNoSpeech ErrorCode = "no-speech"

	// ErrNetwork means the engine lost its backing connection. Retryable.
	ErrNetwork ErrorCode = "network"

	// ErrServiceNotAllowed means the recognition service refused the
	// request. Retryable with delay.
	ErrServiceNotAllowed ErrorCode = "service-not-allowed"

	// ErrNotAllowed means the user revoked permission to capture audio.
	// Terminal: the capability is unavailable for the rest of the session.
	ErrNotAllowed ErrorCode = "not-allowed"

	// ErrInternal covers unclassified engine failures.
	ErrInternal ErrorCode = "internal"
)

// Result is one transcription hypothesis.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Final indicates whether this is an authoritative result or an interim
	// hypothesis that later results may revise.
	Final bool

	// Confidence is the engine's confidence score (0.0–1.0). May be zero
	// when the engine does not report confidence.
	Confidence float64

	// Speaker identifies the speaker when diarization is active. Empty
	// otherwise.
	Speaker string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// Event is the tagged union delivered on [Session.Events]. Exactly one of
// the payload fields is meaningful, selected by Type.
type Event struct {
	Type EventType

	// Result is set when Type == EventResult.
	Result Result

	// Code is set when Type == EventError.
	Code ErrorCode

	// Err carries the underlying error when Type == EventError. May be nil
	// for engines that only report a code.
	Err error
}
