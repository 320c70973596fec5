// Package mock provides an in-memory implementation of [audio.Source] for
// use in unit tests.
//
// The mock records every method call so that tests can assert on call counts,
// and exposes exported fields the test can set to control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	frames, _ := src.Start(ctx)
//	src.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
//	src.Close()
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/PratikLad0/vad-detection/pkg/audio"
)

// Source is a scriptable [audio.Source]. Frames pushed via [Source.Push] are
// delivered on the channel returned by Start. Safe for concurrent use.
type Source struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by the next Start call.
	StartError error

	// TerminalError is returned by Err after the source is failed via [Source.Fail].
	TerminalError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	frames  chan audio.Frame
	started bool
	closed  bool
}

// NewSource creates a mock source whose frame channel has the given buffer size.
func NewSource(buffer int) *Source {
	return &Source{frames: make(chan audio.Frame, buffer)}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return nil, s.StartError
	}
	if s.started {
		return nil, errors.New("mock source: already started")
	}
	s.started = true
	return s.frames, nil
}

// Push delivers a frame to the consumer. Push after Close panics by design —
// the same contract a closed capture stream has.
func (s *Source) Push(f audio.Frame) {
	s.frames <- f
}

// Fail marks the source as failed with err and closes the frame channel,
// simulating the device becoming unavailable mid-capture.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.TerminalError = err
	close(s.frames)
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TerminalError
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}
