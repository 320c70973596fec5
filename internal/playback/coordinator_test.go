package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PratikLad0/vad-detection/pkg/provider/tts/mock"
)

// captureOutput accumulates written PCM under a lock.
type captureOutput struct {
	mu     sync.Mutex
	writes int
	bytes  int
	failAt int // 1-based write index that returns an error; 0 disables
}

func (o *captureOutput) Write(pcm []byte) error {
	o.mu.Lock()
	o.writes++
	o.bytes += len(pcm)
	n := o.writes
	o.mu.Unlock()
	if o.failAt != 0 && n >= o.failAt {
		return errors.New("device gone")
	}
	return nil
}

func (o *captureOutput) stats() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes, o.bytes
}

// finishRecorder collects OnFinished invocations.
type finishRecorder struct {
	mu       sync.Mutex
	started  int
	finished []bool
	done     chan bool
}

func newFinishRecorder() *finishRecorder {
	return &finishRecorder{done: make(chan bool, 8)}
}

func (r *finishRecorder) hooks() Hooks {
	return Hooks{
		OnStarted: func() {
			r.mu.Lock()
			r.started++
			r.mu.Unlock()
		},
		OnFinished: func(interrupted bool) {
			r.mu.Lock()
			r.finished = append(r.finished, interrupted)
			r.mu.Unlock()
			r.done <- interrupted
		},
	}
}

func (r *finishRecorder) waitFinished(t *testing.T) bool {
	t.Helper()
	select {
	case interrupted := <-r.done:
		return interrupted
	case <-time.After(2 * time.Second):
		t.Fatal("OnFinished never fired")
		return false
	}
}

func TestCoordinator_PlayDrainsToCompletion(t *testing.T) {
	prov := &mock.Provider{Chunks: [][]byte{make([]byte, 100), make([]byte, 200)}}
	out := &captureOutput{}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, out, rec.hooks())

	if err := c.Play(context.Background(), "hello world"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if interrupted := rec.waitFinished(t); interrupted {
		t.Error("natural completion reported as interrupted")
	}
	writes, bytes := out.stats()
	if writes != 2 || bytes != 300 {
		t.Errorf("output writes = %d (%d bytes), want 2 (300)", writes, bytes)
	}
	if c.Active() {
		t.Error("Active() = true after completion")
	}
	if prov.Texts[0] != "hello world" {
		t.Errorf("synthesized text = %q", prov.Texts[0])
	}
}

func TestCoordinator_EmptyTextIsNoOp(t *testing.T) {
	prov := &mock.Provider{}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, nil, rec.hooks())

	if err := c.Play(context.Background(), ""); err != nil {
		t.Fatalf("Play(\"\"): %v", err)
	}
	if prov.CallCountSynthesize != 0 {
		t.Errorf("Synthesize called for empty text")
	}
	if rec.started != 0 {
		t.Errorf("OnStarted fired for empty text")
	}
}

func TestCoordinator_SynthesizeFailure(t *testing.T) {
	prov := &mock.Provider{SynthesizeError: errors.New("tts server down")}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, nil, rec.hooks())

	if err := c.Play(context.Background(), "hello"); err == nil {
		t.Fatal("Play returned nil, want synthesis error")
	}
	if c.Active() {
		t.Error("Active() = true after failed start")
	}
	if rec.started != 0 {
		t.Error("OnStarted fired for failed synthesis")
	}
}

func TestCoordinator_NewPlayCancelsPrevious(t *testing.T) {
	prov := &mock.Provider{Hold: true}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, nil, rec.hooks())

	if err := c.Play(context.Background(), "first response"); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	if !c.Active() {
		t.Fatal("Active() = false while playback held open")
	}

	// The second Play blocks until the first playback goroutine has exited.
	if err := c.Play(context.Background(), "second response"); err != nil {
		t.Fatalf("second Play: %v", err)
	}

	if interrupted := rec.waitFinished(t); !interrupted {
		t.Error("cancelled playback not reported as interrupted")
	}
	if !c.Active() {
		t.Error("Active() = false while second playback runs")
	}

	prov.Release()
	if interrupted := rec.waitFinished(t); interrupted {
		t.Error("second playback reported as interrupted")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finished) != 2 {
		t.Errorf("OnFinished count = %d, want 2", len(rec.finished))
	}
	if rec.started != 2 {
		t.Errorf("OnStarted count = %d, want 2", rec.started)
	}
}

func TestCoordinator_Interrupt(t *testing.T) {
	prov := &mock.Provider{Hold: true}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, nil, rec.hooks())

	if err := c.Play(context.Background(), "a long response"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	c.Interrupt()
	if c.Active() {
		t.Error("Active() = true after Interrupt returned")
	}
	if interrupted := rec.waitFinished(t); !interrupted {
		t.Error("interrupted playback not reported as such")
	}

	// Interrupt with nothing playing is a no-op.
	c.Interrupt()
	rec.mu.Lock()
	n := len(rec.finished)
	rec.mu.Unlock()
	if n != 1 {
		t.Errorf("OnFinished count = %d, want 1", n)
	}
}

func TestCoordinator_OutputFailureEndsPlayback(t *testing.T) {
	prov := &mock.Provider{Chunks: [][]byte{make([]byte, 64), make([]byte, 64), make([]byte, 64)}}
	out := &captureOutput{failAt: 2}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, out, rec.hooks())

	if err := c.Play(context.Background(), "hello"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if interrupted := rec.waitFinished(t); !interrupted {
		t.Error("output failure not reported as interrupted")
	}
	writes, _ := out.stats()
	if writes != 2 {
		t.Errorf("writes before abort = %d, want 2", writes)
	}
}

func TestCoordinator_ParentContextCancel(t *testing.T) {
	prov := &mock.Provider{Hold: true}
	rec := newFinishRecorder()
	c := NewCoordinator(prov, nil, rec.hooks())

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Play(ctx, "hello"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	cancel()

	if interrupted := rec.waitFinished(t); !interrupted {
		t.Error("parent cancellation not reported as interrupted")
	}
}
