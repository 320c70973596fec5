// Package record owns the capture-to-chunk pipeline while a speech segment
// is open. It frames raw PCM into fixed 20 ms windows, encodes each window
// to Opus and hands the packets to a sink. Stops are idempotent and always
// flush the partial frame before signalling completion exactly once.
package record

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/PratikLad0/vad-detection/pkg/audio"
)

// Chunk is one encoded audio packet from an active recording run.
type Chunk struct {
	Data     []byte
	Sequence int
	Duration time.Duration
}

// Sink receives the output of a recording run.
type Sink interface {
	// Chunk is called once per encoded frame, in sequence order.
	Chunk(Chunk)
	// Completed is called exactly once per run, after the final flush.
	Completed()
}

// Config sets up the controller's framing and encoding parameters.
type Config struct {
	SampleRate int
	Channels   int
	FrameMs    int
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameMs == 0 {
		c.FrameMs = 20
	}
}

// Controller turns spans of microphone PCM into a sequence of Opus chunks.
// One run at a time: Start fails while a run is active, Stop is safe to
// call any number of times. Suppression drops incoming audio without
// tearing the run down, so playback can mute capture mid-segment.
type Controller struct {
	cfg  Config
	sink Sink

	mu         sync.Mutex
	enc        *gopus.Encoder
	running    bool
	suppressed bool
	seq        int
	pending    []int16 // unframed PCM remainder
	frameLen   int     // samples per frame per channel * channels
}

// NewController builds a Controller writing to sink.
func NewController(cfg Config, sink Sink) (*Controller, error) {
	cfg.applyDefaults()
	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("record: create opus encoder: %w", err)
	}
	return &Controller{
		cfg:      cfg,
		sink:     sink,
		enc:      enc,
		frameLen: cfg.SampleRate / 1000 * cfg.FrameMs * cfg.Channels,
	}, nil
}

// Start begins a new recording run. It errors if a run is already active.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("record: already recording")
	}
	c.running = true
	c.seq = 0
	c.pending = c.pending[:0]
	return nil
}

// Stop ends the active run, flushing any partial frame (zero-padded to a
// full window) and signalling completion. Calling Stop with no active run
// is a no-op: exactly one Completed per Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false

	var final *Chunk
	if len(c.pending) > 0 {
		padded := make([]int16, c.frameLen)
		copy(padded, c.pending)
		c.pending = c.pending[:0]
		if data, err := c.encode(padded); err == nil {
			final = &Chunk{Data: data, Sequence: c.seq, Duration: c.frameDuration()}
			c.seq++
		} else {
			slog.Warn("record: final frame encode failed", "err", err)
		}
	}
	sink := c.sink
	c.mu.Unlock()

	if final != nil {
		sink.Chunk(*final)
	}
	sink.Completed()
}

// SetSuppressed controls whether incoming audio is dropped. Suppression
// does not end the run; already-emitted chunks are unaffected.
func (c *Controller) SetSuppressed(on bool) {
	c.mu.Lock()
	c.suppressed = on
	c.mu.Unlock()
}

// Recording reports whether a run is active.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Process consumes one captured frame. Outside a run, or while suppressed,
// the frame is dropped.
func (c *Controller) Process(frame audio.Frame) {
	c.mu.Lock()
	if !c.running || c.suppressed {
		c.mu.Unlock()
		return
	}

	c.pending = append(c.pending, audio.BytesToInt16s(frame.Data)...)

	var out []Chunk
	for len(c.pending) >= c.frameLen {
		window := c.pending[:c.frameLen]
		data, err := c.encode(window)
		n := copy(c.pending, c.pending[c.frameLen:])
		c.pending = c.pending[:n]
		if err != nil {
			slog.Warn("record: frame encode failed, dropping", "err", err)
			continue
		}
		out = append(out, Chunk{Data: data, Sequence: c.seq, Duration: c.frameDuration()})
		c.seq++
	}
	sink := c.sink
	c.mu.Unlock()

	for _, ch := range out {
		sink.Chunk(ch)
	}
}

func (c *Controller) encode(pcm []int16) ([]byte, error) {
	return c.enc.Encode(pcm, c.frameLen/c.cfg.Channels, len(pcm)*2)
}

func (c *Controller) frameDuration() time.Duration {
	return time.Duration(c.cfg.FrameMs) * time.Millisecond
}
