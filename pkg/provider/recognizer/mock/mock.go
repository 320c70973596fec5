// Package mock provides a scriptable in-memory implementation of
// [recognizer.Engine] and [recognizer.Session] for unit tests.
//
// Tests drive a session by calling [Session.EmitResult], [Session.EmitError],
// and [Session.End]; the wake-word detector under test consumes these through
// the normal Events channel. All types are safe for concurrent use.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
)

// Engine is a mock [recognizer.Engine]. Each Start call produces a new
// [Session], recorded in Sessions in creation order.
type Engine struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by the next Start call and then
	// cleared, so tests can script a single failing restart.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// Sessions holds every session created, in order.
	Sessions []*Session
}

// Start implements [recognizer.Engine].
func (e *Engine) Start(_ context.Context, cfg recognizer.Config) (recognizer.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountStart++
	if e.StartError != nil {
		err := e.StartError
		e.StartError = nil
		return nil, err
	}
	s := &Session{
		Config: cfg,
		events: make(chan recognizer.Event, 64),
	}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// StartCalls returns how many times Start has been called.
func (e *Engine) StartCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountStart
}

// Last returns the most recently created session, or nil if none exists.
func (e *Engine) Last() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Sessions) == 0 {
		return nil
	}
	return e.Sessions[len(e.Sessions)-1]
}

// Session is a scriptable [recognizer.Session].
type Session struct {
	// Config is the configuration the session was started with.
	Config recognizer.Config

	mu sync.Mutex

	// SendAudioError, when non-nil, is returned by SendAudio.
	SendAudioError error

	// Audio accumulates every chunk passed to SendAudio.
	Audio [][]byte

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	events chan recognizer.Event
	ended  bool
}

// SendAudio implements [recognizer.Session].
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("mock session: stopped")
	}
	if s.SendAudioError != nil {
		return s.SendAudioError
	}
	s.Audio = append(s.Audio, chunk)
	return nil
}

// Events implements [recognizer.Session].
func (s *Session) Events() <-chan recognizer.Event {
	return s.events
}

// Stop implements [recognizer.Session]. It delivers the terminal end event
// unless the test has already ended the session explicitly.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.mu.Unlock()
	s.End()
	return nil
}

// EmitResult delivers a result event to the consumer.
func (s *Session) EmitResult(r recognizer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- recognizer.Event{Type: recognizer.EventResult, Result: r}
}

// EmitError delivers a classified error event to the consumer.
func (s *Session) EmitError(code recognizer.ErrorCode, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- recognizer.Event{Type: recognizer.EventError, Code: code, Err: err}
}

// End delivers the terminal end event and closes the event channel. Safe to
// call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.events <- recognizer.Event{Type: recognizer.EventEnd}
	close(s.events)
}

// AudioChunks returns a copy of every chunk received so far.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Audio))
	copy(out, s.Audio)
	return out
}

// Ended reports whether the session has delivered its end event.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
