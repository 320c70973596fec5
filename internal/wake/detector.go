package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
)

// Engine lifecycle states for the wrapped recognizer.
type engineState int

const (
	engineIdle engineState = iota
	engineStarting
	engineRunning
	engineStopping
)

// Retry and confirmation delays. The stop-confirmation timeout bounds the
// wait for the engine's end event after a match; the restart delays follow
// the engine error taxonomy.
const (
	stopConfirmTimeout = 1500 * time.Millisecond
	serviceRetryDelay  = 2 * time.Second
	restartDelay       = 100 * time.Millisecond
	restartFailDelay   = 1 * time.Second
)

// ErrUnsupported is reported when the recognition capability is permanently
// unavailable (permission revoked, engine missing). The caller should fall
// back to a manual trigger mode.
var ErrUnsupported = errors.New("wake: recognition capability unavailable")

// Hooks connect the detector to the rest of the session.
type Hooks struct {
	// OnWake fires once per match, before the engine stop completes. The
	// receiver latches wake-armed state.
	OnWake func(Result)

	// OnReady fires after the engine's stop has been confirmed (or the
	// 1.5 s fallback elapsed) — it is now safe to start recording-side
	// transcription without two engines contending for the capture device.
	OnReady func()

	// OnUnsupported fires when the capability is terminally unavailable.
	OnUnsupported func(error)

	// OnTranscript receives every final transcript observed while in wake
	// mode. Used by text-only mode; may be nil.
	OnTranscript func(recognizer.Result)
}

// Detector runs a continuous recognition session and fires the wake hooks
// when a transcript matches the configured policy. It owns the recognizer
// session lifecycle: unexpected session ends restart the engine, classified
// errors follow the retry taxonomy, and Stop tears everything down.
//
// The detector keeps listening after a match only until the engine stop is
// confirmed; the wake latch itself lives in the VAD state machine and is
// never re-required for subsequent segments.
type Detector struct {
	engine  recognizer.Engine
	matcher *Matcher
	cfg     recognizer.Config
	hooks   Hooks

	mu          sync.Mutex
	state       engineState
	sess        recognizer.Session
	intentional bool
	gen         int // generation guard: stale timer callbacks compare against this
	done        chan struct{}
	doneOnce    sync.Once
}

// NewDetector creates a Detector. Call [Detector.Run] to start listening.
func NewDetector(engine recognizer.Engine, matcher *Matcher, cfg recognizer.Config, hooks Hooks) *Detector {
	cfg.InterimResults = true
	return &Detector{
		engine:  engine,
		matcher: matcher,
		cfg:     cfg,
		hooks:   hooks,
		done:    make(chan struct{}),
	}
}

// SendAudio forwards captured audio to the active recognition session.
// Audio arriving while no session is running is dropped — the capture loop
// need not know about engine restarts.
func (d *Detector) SendAudio(chunk []byte) {
	d.mu.Lock()
	sess := d.sess
	running := d.state == engineRunning
	d.mu.Unlock()

	if !running || sess == nil {
		return
	}
	if err := sess.SendAudio(chunk); err != nil {
		slog.Debug("wake: dropped audio chunk", "err", err)
	}
}

// Run starts the detector's engine loop and blocks until a wake match has
// been fully confirmed, the capability proves unsupported, or ctx is
// cancelled. It is intended to run in its own goroutine.
func (d *Detector) Run(ctx context.Context) error {
	gen := d.bumpGen()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		default:
		}

		sess, err := d.startSession(ctx)
		if err != nil {
			// The restart call itself failed; longer retry.
			slog.Warn("wake: engine start failed, retrying", "err", err, "delay", restartFailDelay)
			if !d.sleep(ctx, restartFailDelay, gen) {
				return ctx.Err()
			}
			continue
		}

		outcome := d.consume(ctx, sess)
		switch outcome {
		case outcomeMatched:
			if d.hooks.OnReady != nil {
				d.hooks.OnReady()
			}
			return nil

		case outcomeTerminal:
			return ErrUnsupported

		case outcomeStopped:
			return nil

		case outcomeRetryDelay:
			slog.Info("wake: recognizer error, retrying", "delay", serviceRetryDelay)
			if !d.sleep(ctx, serviceRetryDelay, gen) {
				return ctx.Err()
			}

		case outcomeEnded:
			// Unexpected end while still in wake mode: quick restart.
			if !d.sleep(ctx, restartDelay, gen) {
				return ctx.Err()
			}
		}
	}
}

// Stop tears the detector down: the current session is stopped
// intentionally and Run returns. Safe to call more than once.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.intentional = true
	d.gen++
	sess := d.sess
	d.mu.Unlock()

	d.doneOnce.Do(func() { close(d.done) })
	if sess != nil {
		_ = sess.Stop()
	}
}

// consume outcomes.
type outcome int

const (
	outcomeMatched outcome = iota
	outcomeEnded
	outcomeRetryDelay
	outcomeTerminal
	outcomeStopped
)

// startSession opens a recognition session and records it as current.
func (d *Detector) startSession(ctx context.Context) (recognizer.Session, error) {
	d.mu.Lock()
	d.state = engineStarting
	d.mu.Unlock()

	sess, err := d.engine.Start(ctx, d.cfg)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = engineIdle
		return nil, fmt.Errorf("wake: start recognition: %w", err)
	}
	d.sess = sess
	d.state = engineRunning
	return sess, nil
}

// consume drains one session's events, applying the match policy and the
// error taxonomy. It returns when the session ends or a decision is made.
func (d *Detector) consume(ctx context.Context, sess recognizer.Session) outcome {
	for {
		select {
		case <-ctx.Done():
			d.teardownSession(sess)
			return outcomeStopped

		case <-d.done:
			d.teardownSession(sess)
			return outcomeStopped

		case ev, ok := <-sess.Events():
			if !ok {
				return d.sessionEnded()
			}

			switch ev.Type {
			case recognizer.EventResult:
				if d.hooks.OnTranscript != nil && ev.Result.Final {
					d.hooks.OnTranscript(ev.Result)
				}
				res := d.matcher.Match(ev.Result.Text)
				if len(res.Intent) > 0 {
					slog.Debug("wake: intent keywords heard", "intent", res.Intent, "matched", res.Matched)
				}
				if !res.Matched {
					continue
				}
				slog.Info("wake phrase matched", "rule", res.Rule, "phrase", res.Phrase)
				if d.hooks.OnWake != nil {
					d.hooks.OnWake(res)
				}
				d.stopAndConfirm(sess)
				return outcomeMatched

			case recognizer.EventError:
				switch ev.Code {
				case recognizer.ErrAborted, recognizer.ErrNoSpeech:
					// Expected restart noise.
					continue
				case recognizer.ErrNetwork, recognizer.ErrServiceNotAllowed, recognizer.ErrInternal:
					slog.Warn("wake: recognizer error", "code", ev.Code, "err", ev.Err)
					d.teardownSession(sess)
					return outcomeRetryDelay
				case recognizer.ErrNotAllowed:
					slog.Error("wake: permission revoked; detector unsupported", "err", ev.Err)
					d.teardownSession(sess)
					if d.hooks.OnUnsupported != nil {
						d.hooks.OnUnsupported(ErrUnsupported)
					}
					return outcomeTerminal
				}

			case recognizer.EventEnd:
				return d.sessionEnded()
			}
		}
	}
}

// stopAndConfirm requests an engine stop and waits for the end confirmation,
// racing it against the 1.5 s fallback timer. Whichever fires first wins;
// the loser is discarded, not treated as an error.
func (d *Detector) stopAndConfirm(sess recognizer.Session) {
	d.mu.Lock()
	d.intentional = true
	d.state = engineStopping
	d.mu.Unlock()

	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		_ = sess.Stop()
		// Drain to the channel close so the engine's goroutines finish.
		for range sess.Events() {
		}
	}()

	timer := time.NewTimer(stopConfirmTimeout)
	defer timer.Stop()
	select {
	case <-stopDone:
	case <-timer.C:
		slog.Warn("wake: engine stop confirmation timed out; proceeding")
	}

	d.mu.Lock()
	d.state = engineIdle
	d.sess = nil
	d.mu.Unlock()
}

// sessionEnded classifies an end-of-session: intentional stops finish the
// detector, anything else is restart noise.
func (d *Detector) sessionEnded() outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess = nil
	d.state = engineIdle
	if d.intentional {
		return outcomeStopped
	}
	slog.Debug("wake: recognition ended unexpectedly; restarting")
	return outcomeEnded
}

// teardownSession stops a session without the confirmation dance.
func (d *Detector) teardownSession(sess recognizer.Session) {
	d.mu.Lock()
	d.sess = nil
	d.state = engineIdle
	d.mu.Unlock()
	go func() {
		_ = sess.Stop()
		for range sess.Events() {
		}
	}()
}

// sleep waits for delay unless the context is cancelled, the detector is
// stopped, or the generation has moved on (teardown raced the timer).
func (d *Detector) sleep(ctx context.Context, delay time.Duration, gen int) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-d.done:
		return false
	case <-timer.C:
		return d.genValid(gen)
	}
}

func (d *Detector) bumpGen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	return d.gen
}

func (d *Detector) genValid(gen int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen == gen
}
