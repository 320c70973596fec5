package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// PCMSource adapts an io.Reader of raw 16-bit little-endian PCM into a
// Source. It frames the stream into fixed windows and, in realtime mode,
// paces emission at the capture rate so downstream timing behaves like a
// live microphone. Use it with a pipe from an external capture tool
// (arecord, sox, ffmpeg) or a recorded file in tests.
type PCMSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	frameMs    int
	realtime   bool

	mu      sync.Mutex
	started bool
	closed  bool
	termErr error
	closer  io.Closer
}

// PCMOption configures a PCMSource.
type PCMOption func(*PCMSource)

// WithRealtime paces frame emission at the capture rate instead of reading
// as fast as the reader allows. Use for file input; pipes from live capture
// tools are already paced by the kernel.
func WithRealtime() PCMOption {
	return func(s *PCMSource) { s.realtime = true }
}

// WithFrameMs sets the frame window in milliseconds. Default 20.
func WithFrameMs(ms int) PCMOption {
	return func(s *PCMSource) { s.frameMs = ms }
}

// NewPCMSource creates a PCMSource reading from r. If r is also an
// io.Closer it is closed by Close.
func NewPCMSource(r io.Reader, sampleRate, channels int, opts ...PCMOption) *PCMSource {
	s := &PCMSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		frameMs:    20,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins reading frames. The returned channel closes when the reader
// is exhausted, fails, or ctx is cancelled; consult Err afterwards.
func (s *PCMSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("audio: source already started")
	}
	if s.closed {
		return nil, errors.New("audio: source closed")
	}
	s.started = true

	frameBytes := s.sampleRate / 1000 * s.frameMs * s.channels * 2
	out := make(chan Frame, 8)

	go s.readLoop(ctx, out, frameBytes)
	return out, nil
}

func (s *PCMSource) readLoop(ctx context.Context, out chan<- Frame, frameBytes int) {
	defer close(out)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(time.Duration(s.frameMs) * time.Millisecond)
		defer ticker.Stop()
	}

	frameDur := time.Duration(s.frameMs) * time.Millisecond
	var elapsed time.Duration

	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.setErr(fmt.Errorf("audio: read pcm: %w", err))
			} else if n > 0 {
				// Partial final frame; pad with silence.
				frame := Frame{Data: buf, SampleRate: s.sampleRate, Channels: s.channels, Timestamp: elapsed}
				select {
				case out <- frame:
				case <-ctx.Done():
				}
			}
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}

		frame := Frame{Data: buf, SampleRate: s.sampleRate, Channels: s.channels, Timestamp: elapsed}
		elapsed += frameDur
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Err reports the terminal read error, if any.
func (s *PCMSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// Close releases the underlying reader. Idempotent.
func (s *PCMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *PCMSource) setErr(err error) {
	s.mu.Lock()
	s.termErr = err
	s.mu.Unlock()
}
