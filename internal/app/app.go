// Package app wires the recorder subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture pipeline until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options. When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/PratikLad0/vad-detection/internal/backendclient"
	"github.com/PratikLad0/vad-detection/internal/config"
	"github.com/PratikLad0/vad-detection/internal/energy"
	"github.com/PratikLad0/vad-detection/internal/eventlog"
	"github.com/PratikLad0/vad-detection/internal/health"
	"github.com/PratikLad0/vad-detection/internal/observe"
	"github.com/PratikLad0/vad-detection/internal/playback"
	"github.com/PratikLad0/vad-detection/internal/record"
	"github.com/PratikLad0/vad-detection/internal/stream"
	"github.com/PratikLad0/vad-detection/internal/vad"
	"github.com/PratikLad0/vad-detection/internal/wake"
	"github.com/PratikLad0/vad-detection/pkg/audio"
	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
	"github.com/PratikLad0/vad-detection/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config.
type Providers struct {
	// Source is the microphone capture source. Required.
	Source audio.Source

	// Recognizer drives wake phrase detection. Nil disables wake gating
	// and arms the session immediately.
	Recognizer recognizer.Engine

	// TTS speaks backend responses. Nil disables playback.
	TTS tts.Provider
}

// App owns all subsystem lifetimes and orchestrates the capture pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	session  *vad.Session
	monitor  *energy.Monitor
	machine  *vad.Machine
	detector *wake.Detector
	recorder *record.Controller
	client   *stream.Client
	player   *playback.Coordinator
	backend  *backendclient.Client
	events   *eventlog.Log
	metrics  *observe.Metrics

	mu           sync.Mutex
	streamingOK  bool // health gate passed, transport usable
	segmentEndAt time.Time
	segSpan      trace.Span // open round-trip span for the last segment
	segBuf       []byte     // offline fallback: encoded segment pending upload

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEventLog injects an event log instead of creating one.
func WithEventLog(l *eventlog.Log) Option {
	return func(a *App) { a.events = l }
}

// WithMetrics injects a metrics instance instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithBackendClient injects a backend HTTP client instead of creating one
// from config.
func WithBackendClient(c *backendclient.Client) Option {
	return func(a *App) { a.backend = c }
}

// WithStreamClient injects a transport client instead of creating one from
// config. The injected client's hooks are replaced by the app's.
func WithStreamClient(c *stream.Client) Option {
	return func(a *App) { a.client = c }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. Initialisation is synchronous; nothing runs
// until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil {
		return nil, fmt.Errorf("app: an audio source is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		session:   vad.NewSession(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.events == nil {
		a.events = eventlog.New(0)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.backend == nil {
		bc, err := backendclient.NewClient(cfg.Backend.BaseURL,
			backendclient.WithSessionID(a.session.ID))
		if err != nil {
			return nil, fmt.Errorf("app: init backend client: %w", err)
		}
		a.backend = bc
	}

	a.initPlayback()
	if err := a.initRecorder(); err != nil {
		return nil, err
	}
	a.initStream()
	a.initMachine()
	a.initWake()

	return a, nil
}

func (a *App) initPlayback() {
	if a.providers.TTS == nil {
		return
	}
	a.player = playback.NewCoordinator(a.providers.TTS, nil, playback.Hooks{
		OnStarted: func() {
			a.metrics.PlaybacksActive.Add(context.Background(), 1)
			if a.recorder != nil {
				a.recorder.SetSuppressed(true)
			}
		},
		OnFinished: func(interrupted bool) {
			a.metrics.PlaybacksActive.Add(context.Background(), -1)
			if a.recorder != nil {
				a.recorder.SetSuppressed(false)
			}
			if interrupted {
				a.events.Info("playback", "response playback interrupted")
			}
		},
	})
}

func (a *App) initRecorder() error {
	rec, err := record.NewController(record.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
		FrameMs:    a.cfg.Audio.FrameMs,
	}, chunkSink{a})
	if err != nil {
		return fmt.Errorf("app: init recorder: %w", err)
	}
	a.recorder = rec
	return nil
}

func (a *App) initStream() {
	if a.client != nil {
		return
	}
	a.client = stream.NewClient(stream.Config{
		URL:                  wsURL(a.cfg),
		SessionID:            a.session.ID,
		DialTimeout:          a.cfg.Transport.DialTimeout.Std(),
		ReconnectDelay:       a.cfg.Transport.ReconnectDelay.Std(),
		ReconnectMultiplier:  a.cfg.Transport.ReconnectMultiplier,
		MaxReconnectDelay:    a.cfg.Transport.MaxReconnectDelay.Std(),
		MaxReconnectAttempts: a.cfg.Transport.MaxReconnectAttempts,
	}, stream.Hooks{
		OnMessage: a.handleServerMessage,
		OnConnected: func(attempt int) {
			a.metrics.RecordReconnect(context.Background(), "success")
			a.metrics.StreamConnected.Add(context.Background(), 1)
			a.events.Info("stream", "connected")
		},
		OnDisconnected: func(err error) {
			a.metrics.StreamConnected.Add(context.Background(), -1)
			a.events.Warn("stream", "disconnected")
		},
		OnGiveUp: func(err error) {
			a.metrics.RecordReconnect(context.Background(), "exhausted")
			a.events.Error("stream", "reconnect attempts exhausted")
		},
	})
}

func (a *App) initMachine() {
	thresholds := energy.NewThresholds(
		a.cfg.VAD.BaseSilenceRMS, a.cfg.VAD.BaseSpeechRMS, a.cfg.VAD.Sensitivity)

	a.machine = vad.New(a.session, vad.Config{
		Thresholds:      thresholds,
		SilenceDuration: a.cfg.VAD.SilenceDuration.Std(),
		BargeInFactor:   a.cfg.VAD.BargeInFactor,
	}, vad.Hooks{
		StartRecording: func() error { return a.recorder.Start() },
		StopRecording:  func() { a.recorder.Stop() },
		SegmentEnded:   a.onSegmentEnded,
		PlaybackActive: func() bool { return a.player != nil && a.player.Active() },
		InterruptPlayback: func() {
			if a.player != nil {
				a.player.Interrupt()
				a.events.Info("playback", "barge-in, playback interrupted")
			}
		},
		OnError: func(err error) {
			slog.Error("capture pipeline error", "err", err)
			a.events.Error("vad", err.Error())
		},
	})

	a.monitor = energy.NewMonitor(thresholds)
	a.monitor.Subscribe(func(s energy.Sample) {
		a.metrics.RecordFrame(context.Background(), s.Class.String())
		a.machine.HandleSample(s)
	})
	a.monitor.OnError(func(err error) {
		slog.Warn("capture source gone", "err", err)
		a.events.Error("energy", err.Error())
		a.machine.Teardown()
	})
}

func (a *App) initWake() {
	if a.providers.Recognizer == nil {
		return
	}
	matcher := wake.NewMatcher(a.cfg.Wake.TriggerWord, a.cfg.Wake.Phrases, a.cfg.Wake.FuzzyThreshold)
	a.detector = wake.NewDetector(a.providers.Recognizer, matcher, recognizer.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
		Language:   a.cfg.Recognizer.Language,
	}, wake.Hooks{
		OnWake: func(res wake.Result) {
			a.metrics.RecordWake(context.Background(), res.Rule)
			a.events.Info("wake", "wake phrase matched via "+res.Rule)
		},
		OnReady: func() {
			a.machine.Wake()
			a.events.Info("wake", "session armed, listening")
		},
		OnUnsupported: func(err error) {
			slog.Warn("wake detection unsupported, arming immediately", "err", err)
			a.events.Warn("wake", "recognition unavailable, manual arm")
			a.machine.Wake()
		},
		OnTranscript: a.onWakeTranscript,
	})
}

// Run starts the capture pipeline and blocks until ctx is cancelled or the
// audio source fails. The backend health probe gates the transport: when
// the backend is down the recorder still runs, it just cannot stream.
func (a *App) Run(ctx context.Context) error {
	frames, err := a.providers.Source.Start(ctx)
	if err != nil {
		return fmt.Errorf("app: start audio source: %w", err)
	}

	if err := a.backend.Health(ctx); err != nil {
		slog.Warn("backend health check failed, transport disabled", "err", err)
		a.events.Warn("backend", err.Error())
	} else if !a.cfg.Client.TextOnly {
		a.setStreaming(true)
		if err := a.client.Connect(ctx); err != nil {
			slog.Warn("initial stream connect failed", "err", err)
			a.events.Warn("stream", err.Error())
		} else {
			a.metrics.StreamConnected.Add(ctx, 1)
			a.events.Info("stream", "connected")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.detector != nil {
		g.Go(func() error {
			err := a.detector.Run(gctx)
			if err != nil && gctx.Err() == nil {
				slog.Warn("wake detector stopped", "err", err)
			}
			return nil
		})
	} else {
		// No recognizer configured: skip the wake gate.
		a.machine.Wake()
	}

	g.Go(func() error {
		defer a.teardown()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case frame, ok := <-frames:
				if !ok {
					if err := a.providers.Source.Err(); err != nil {
						a.events.Error("audio", err.Error())
						return fmt.Errorf("app: audio source failed: %w", err)
					}
					return nil
				}
				a.handleFrame(frame)
			}
		}
	})

	slog.Info("recorder running",
		"session_id", a.session.ID,
		"text_only", a.cfg.Client.TextOnly,
		"wake_gated", a.detector != nil)

	return g.Wait()
}

// handleFrame fans one captured frame out to the wake detector (while the
// session is not yet armed) and the energy monitor.
func (a *App) handleFrame(frame audio.Frame) {
	if a.detector != nil && a.machine.State() == vad.StateArmedWaiting {
		a.detector.SendAudio(frame.Data)
	}
	a.monitor.Process(frame)
	if a.recorder.Recording() {
		a.recorder.Process(frame)
	}
}

// onSegmentEnded runs inside the state machine's finalize path, before the
// recorder flush.
func (a *App) onSegmentEnded(seg vad.Segment) {
	a.metrics.Segments.Add(context.Background(), 1)
	a.metrics.SegmentDuration.Record(context.Background(), seg.Duration.Seconds())
	_, span := observe.StartSpan(context.Background(), "segment.round_trip")
	span.SetAttributes(observe.Attr("session_id", a.session.ID))
	a.mu.Lock()
	a.segmentEndAt = time.Now()
	if a.segSpan != nil {
		// The previous segment never got a response; close its span so it
		// is exported rather than lost.
		a.segSpan.End()
	}
	a.segSpan = span
	a.mu.Unlock()
	a.events.Info("vad", "segment finalized")
	slog.Debug("segment finalized",
		"start", seg.Start, "end", seg.End, "duration", seg.Duration)
}

// handleServerMessage dispatches the inbound transport union.
func (a *App) handleServerMessage(in stream.Inbound) {
	switch in.Type {
	case stream.TypeSessionAck:
		slog.Debug("session acknowledged")

	case stream.TypeChunkReceived, stream.TypeSegmentProcessed:
		// Flow acknowledgements; nothing to do.

	case stream.TypeTranscription:
		a.machine.AttachTranscript(in.Text, in.Speaker)
		slog.Info("transcription received", "speaker", in.Speaker, "text", in.Text)

	case stream.TypeChatbotResponse:
		a.mu.Lock()
		endAt := a.segmentEndAt
		span := a.segSpan
		a.segSpan = nil
		a.mu.Unlock()
		if !endAt.IsZero() {
			a.metrics.RoundTripDuration.Record(context.Background(), time.Since(endAt).Seconds())
		}
		if span != nil {
			if in.BackendUsed != "" {
				span.SetAttributes(observe.Attr("backend_used", in.BackendUsed))
			}
			span.End()
		}
		if in.Error != "" {
			slog.Warn("backend response error", "err", in.Error)
			a.events.Warn("backend", in.Error)
			return
		}
		slog.Info("response received", "backend", in.BackendUsed)
		if in.Transcription != "" {
			a.machine.AttachTranscript(in.Transcription, "")
		}
		a.speak(in.Response)

	case stream.TypeError:
		a.events.Warn("stream", in.Message)
	}
}

// onWakeTranscript handles final transcripts seen during wake listening.
// In text-only mode every final goes straight to the backend as text.
func (a *App) onWakeTranscript(res recognizer.Result) {
	if !a.cfg.Client.TextOnly || res.Text == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := a.backend.SendTranscriptionText(ctx, res.Text)
		if err != nil {
			slog.Warn("text-only transcription failed", "err", err)
			a.events.Warn("backend", err.Error())
			return
		}
		slog.Info("text-only response", "backend", resp.BackendUsed)
		a.speak(resp.Response)
	}()
}

func (a *App) speak(text string) {
	if a.player == nil || text == "" {
		return
	}
	if err := a.player.Play(context.Background(), text); err != nil {
		slog.Warn("response playback failed", "err", err)
		a.events.Warn("playback", err.Error())
	}
}

// Snapshot builds the /status response body.
func (a *App) Snapshot() health.Snapshot {
	sessionID, armed, speaking, state := a.machine.Snapshot()
	return health.Snapshot{
		SessionID:       sessionID,
		State:           state.String(),
		WakeArmed:       armed,
		Speaking:        speaking,
		StreamConnected: a.client.Connected(),
		PlaybackActive:  a.player != nil && a.player.Active(),
		SegmentCount:    len(a.machine.Segments()),
	}
}

// Checkers returns the readiness checks for /readyz.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "backend", Check: a.backend.Health},
		{Name: "stream", Check: func(context.Context) error {
			if a.cfg.Client.TextOnly {
				return nil
			}
			if !a.client.Connected() {
				return fmt.Errorf("transport disconnected")
			}
			return nil
		}},
	}
}

// Shutdown tears the pipeline down: wake detector, playback, state machine,
// transport, source. Safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		a.teardown()
		if err := a.providers.Source.Close(); err != nil {
			slog.Warn("audio source close failed", "err", err)
		}
		if err := a.client.Close(); err != nil {
			slog.Warn("stream close failed", "err", err)
		}
		slog.Info("recorder stopped", "segments", len(a.machine.Segments()))
	})
}

func (a *App) teardown() {
	a.mu.Lock()
	if a.segSpan != nil {
		a.segSpan.End()
		a.segSpan = nil
	}
	a.mu.Unlock()
	if a.detector != nil {
		a.detector.Stop()
	}
	if a.player != nil {
		a.player.Interrupt()
	}
	a.machine.Teardown()
}

func (a *App) setStreaming(ok bool) {
	a.mu.Lock()
	a.streamingOK = ok
	a.mu.Unlock()
}

func (a *App) streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamingOK
}

// chunkSink bridges the recorder's output to the transport. While the
// transport is unavailable, chunks are buffered and the finished segment is
// uploaded over plain HTTP instead.
type chunkSink struct{ a *App }

func (s chunkSink) Chunk(c record.Chunk) {
	a := s.a
	if !a.streaming() {
		a.mu.Lock()
		a.segBuf = append(a.segBuf, c.Data...)
		a.mu.Unlock()
		return
	}
	if err := a.client.SendChunk(c.Data); err != nil {
		a.metrics.RecordChunkDropped(context.Background(), "disconnected")
		slog.Debug("chunk dropped", "seq", c.Sequence, "err", err)
		return
	}
	a.metrics.ChunksSent.Add(context.Background(), 1)
}

func (s chunkSink) Completed() {
	a := s.a
	if !a.streaming() {
		a.mu.Lock()
		buf := a.segBuf
		a.segBuf = nil
		a.mu.Unlock()
		if len(buf) > 0 {
			go a.uploadSegment(buf)
		}
		return
	}
	if err := a.client.SendSegmentEnd(); err != nil {
		slog.Debug("segment end marker dropped", "err", err)
	}
}

// uploadSegment stores a finished segment over HTTP when streaming is not
// available.
func (a *App) uploadSegment(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	name := fmt.Sprintf("segment-%s.opus", time.Now().UTC().Format("20060102-150405.000"))
	res, err := a.backend.UploadRecording(ctx, name, bytes.NewReader(data))
	if err != nil {
		a.metrics.Uploads.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "error")))
		slog.Warn("segment upload failed", "err", err)
		a.events.Warn("backend", "segment upload failed")
		return
	}
	a.metrics.Uploads.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "ok")))
	slog.Info("segment uploaded", "filename", res.Filename)
	a.events.Info("backend", "segment uploaded as "+res.Filename)
}

func wsURL(cfg *config.Config) string {
	base := cfg.Backend.BaseURL
	switch {
	case len(base) > 8 && base[:8] == "https://":
		base = "wss://" + base[8:]
	case len(base) > 7 && base[:7] == "http://":
		base = "ws://" + base[7:]
	}
	path := cfg.Backend.WSPath
	if path == "" {
		path = config.DefaultWSPath
	}
	return base + path
}
