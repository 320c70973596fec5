// Package playback coordinates spoken responses with the capture side.
// Only one playback runs at a time; starting a new one cancels the previous
// one before any new audio flows, and the capture pipeline is told to
// suppress recording for the whole span so the response is not re-recorded.
// Loud speech over an active playback is a barge-in: the coordinator cancels
// synthesis mid-stream and lets the new utterance through.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/PratikLad0/vad-detection/pkg/provider/tts"
)

// Output receives synthesized audio. Implementations that have no audio
// device may simply discard the data; the coordinator's state handling is
// what matters to the capture side.
type Output interface {
	Write(pcm []byte) error
}

// Discard is an Output that drops all audio.
type Discard struct{}

func (Discard) Write([]byte) error { return nil }

// Hooks notify the capture side of playback state changes.
type Hooks struct {
	// OnStarted fires after the previous playback (if any) has fully
	// stopped and before the first chunk of the new one is written.
	OnStarted func()
	// OnFinished fires exactly once per playback, whether it drained
	// fully or was interrupted. The receiver re-arms capture.
	OnFinished func(interrupted bool)
}

// Coordinator owns the single active playback slot.
type Coordinator struct {
	provider tts.Provider
	out      Output
	hooks    Hooks

	mu      sync.Mutex
	cancel  context.CancelFunc
	waiting chan struct{} // closed when the current playback goroutine exits
	active  bool
}

// NewCoordinator builds a Coordinator. A nil out defaults to Discard.
func NewCoordinator(provider tts.Provider, out Output, hooks Hooks) *Coordinator {
	if out == nil {
		out = Discard{}
	}
	return &Coordinator{provider: provider, out: out, hooks: hooks}
}

// Active reports whether a playback is in progress.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Play starts speaking text. Any playback already in progress is cancelled
// and fully drained first, so two responses never overlap.
func (c *Coordinator) Play(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	c.Interrupt()

	pctx, cancel := context.WithCancel(ctx)
	chunks, err := c.provider.Synthesize(pctx, text)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.waiting = done
	c.active = true
	c.mu.Unlock()

	if c.hooks.OnStarted != nil {
		c.hooks.OnStarted()
	}

	go c.run(pctx, chunks, done)
	return nil
}

// Interrupt cancels the active playback and blocks until its goroutine has
// exited. A no-op when nothing is playing.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.waiting
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (c *Coordinator) run(ctx context.Context, chunks <-chan []byte, done chan struct{}) {
	interrupted := false

drain:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break drain
		case pcm, ok := <-chunks:
			if !ok {
				break drain
			}
			if err := c.out.Write(pcm); err != nil {
				slog.Warn("playback output write failed", "err", err)
				interrupted = true
				break drain
			}
		}
	}
	if interrupted && errors.Is(ctx.Err(), context.Canceled) {
		slog.Debug("playback interrupted")
	}

	c.mu.Lock()
	if c.waiting == done {
		c.cancel = nil
		c.waiting = nil
		c.active = false
	}
	c.mu.Unlock()
	close(done)

	if c.hooks.OnFinished != nil {
		c.hooks.OnFinished(interrupted)
	}
}
