package app

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/PratikLad0/vad-detection/internal/config"
	"github.com/PratikLad0/vad-detection/internal/stream"
	"github.com/PratikLad0/vad-detection/internal/vad"
	"github.com/PratikLad0/vad-detection/pkg/audio"
	audiomock "github.com/PratikLad0/vad-detection/pkg/audio/mock"
	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
	recogmock "github.com/PratikLad0/vad-detection/pkg/provider/recognizer/mock"
	ttsmock "github.com/PratikLad0/vad-detection/pkg/provider/tts/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// backendStub is a minimal in-process stand-in for the recording backend.
type backendStub struct {
	mu          sync.Mutex
	uploads     []string
	transcripts []string
}

func (b *backendStub) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

func (b *backendStub) transcriptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transcripts)
}

func newBackendStub(t *testing.T) (*httptest.Server, *backendStub) {
	t.Helper()
	stub := &backendStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.uploads = append(stub.uploads, hdr.Filename)
		stub.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "saved", "filename": hdr.Filename})
	})
	mux.HandleFunc("POST /transcription", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		stub.mu.Lock()
		stub.transcripts = append(stub.transcripts, req.Text)
		stub.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"response": "ok", "backend_used": "stub"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, stub
}

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{BaseURL: backendURL},
		Client:  config.ClientConfig{TextOnly: true},
		Audio:   config.AudioConfig{SampleRate: 16000, Channels: 1, FrameMs: 20},
		VAD: config.VADConfig{
			Sensitivity:     0.5,
			BaseSilenceRMS:  0.01,
			BaseSpeechRMS:   0.02,
			SilenceDuration: config.Duration(40 * time.Millisecond),
			BargeInFactor:   1.5,
		},
		Wake: config.WakeConfig{
			TriggerWord:    "start",
			Phrases:        []string{"hey ai"},
			FuzzyThreshold: 0.88,
		},
		Transport: config.TransportConfig{
			DialTimeout:          config.Duration(time.Second),
			ReconnectDelay:       config.Duration(20 * time.Millisecond),
			ReconnectMultiplier:  1.5,
			MaxReconnectDelay:    config.Duration(100 * time.Millisecond),
			MaxReconnectAttempts: 1,
		},
		Recognizer: config.RecognizerConfig{Language: "en"},
	}
}

// frame builds one 20 ms capture frame at a constant amplitude.
func frame(amplitude int16, ts time.Duration) audio.Frame {
	data := make([]byte, 640)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(amplitude))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func TestNew_RequiresSource(t *testing.T) {
	srv, _ := newBackendStub(t)
	cfg := testConfig(srv.URL)

	if _, err := New(cfg, nil); err == nil {
		t.Error("New with nil providers succeeded")
	}
	if _, err := New(cfg, &Providers{}); err == nil {
		t.Error("New with nil source succeeded")
	}
}

func TestApp_OfflineSegmentIsUploaded(t *testing.T) {
	srv, stub := newBackendStub(t)
	cfg := testConfig(srv.URL)
	src := audiomock.NewSource(64)

	a, err := New(cfg, &Providers{Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// No recognizer configured, so the session arms itself. Speech opens a
	// segment, then enough silence finalizes it. Text-only mode keeps the
	// transport down, so the finished segment falls back to an HTTP upload.
	src.Push(frame(0, 0))
	for i := 1; i <= 5; i++ {
		src.Push(frame(16384, time.Duration(i)*20*time.Millisecond))
	}
	src.Push(frame(0, 120*time.Millisecond))
	src.Push(frame(0, 140*time.Millisecond))

	waitFor(t, func() bool { return stub.uploadCount() == 1 }, "segment never uploaded")

	stub.mu.Lock()
	name := stub.uploads[0]
	stub.mu.Unlock()
	if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, ".opus") {
		t.Errorf("upload filename = %q", name)
	}

	snap := a.Snapshot()
	if !snap.WakeArmed {
		t.Error("session not armed without a recognizer")
	}
	if snap.SegmentCount != 1 {
		t.Errorf("segment count = %d, want 1", snap.SegmentCount)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after cancel")
	}

	a.Shutdown()
	a.Shutdown()
	if src.CallCountClose != 1 {
		t.Errorf("source Close called %d times, want 1", src.CallCountClose)
	}
}

func TestApp_WakeGateArmsOnMatch(t *testing.T) {
	srv, stub := newBackendStub(t)
	cfg := testConfig(srv.URL)
	src := audiomock.NewSource(64)
	engine := &recogmock.Engine{}

	a, err := New(cfg, &Providers{Source: src, Recognizer: engine})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	waitFor(t, func() bool { return engine.StartCalls() >= 1 }, "recognizer never started")
	if a.Snapshot().WakeArmed {
		t.Fatal("session armed before the wake phrase")
	}

	// Frames captured before the wake are routed to the recognizer.
	src.Push(frame(0, 0))
	waitFor(t, func() bool {
		s := engine.Last()
		return s != nil && len(s.AudioChunks()) > 0
	}, "capture audio never reached the recognizer")

	// A non-matching final transcript is forwarded; in text-only mode it
	// goes straight to the backend as text.
	engine.Last().EmitResult(recognizer.Result{Text: "what time is it", Final: true})
	waitFor(t, func() bool { return stub.transcriptCount() == 1 }, "transcript never forwarded")

	engine.Last().EmitResult(recognizer.Result{Text: "hey ai", Final: true})
	waitFor(t, func() bool { return a.Snapshot().WakeArmed }, "wake phrase did not arm the session")

	// After arming, capture flows to the energy pipeline instead of the
	// recognizer: speech now opens a segment.
	forwarded := len(engine.Last().AudioChunks())
	src.Push(frame(16384, 200*time.Millisecond))
	waitFor(t, func() bool { return a.Snapshot().Speaking }, "speech after arming never opened a segment")
	if got := len(engine.Last().AudioChunks()); got != forwarded {
		t.Errorf("recognizer received %d chunks after arming, want %d", got, forwarded)
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after cancel")
	}
}

func TestApp_ChatbotResponseIsSpoken(t *testing.T) {
	srv, _ := newBackendStub(t)
	cfg := testConfig(srv.URL)
	src := audiomock.NewSource(8)
	tts := &ttsmock.Provider{}

	a, err := New(cfg, &Providers{Source: src, TTS: tts})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.handleServerMessage(stream.Inbound{
		Type:        stream.TypeChatbotResponse,
		Response:    "the weather is fine",
		BackendUsed: "stub",
	})

	waitFor(t, func() bool { return !a.player.Active() }, "playback never finished")
	if len(tts.Texts) != 1 || tts.Texts[0] != "the weather is fine" {
		t.Errorf("synthesized texts = %q", tts.Texts)
	}

	// A response carrying an error is surfaced, not spoken.
	a.handleServerMessage(stream.Inbound{Type: stream.TypeChatbotResponse, Error: "backend overloaded"})
	if tts.CallCountSynthesize != 1 {
		t.Errorf("synthesize called %d times, want 1", tts.CallCountSynthesize)
	}
}

func TestApp_SegmentRoundTripSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	srv, _ := newBackendStub(t)
	cfg := testConfig(srv.URL)
	a, err := New(cfg, &Providers{Source: audiomock.NewSource(8)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The span covers the gap between segment end and the chatbot response,
	// so nothing is exported until the response lands.
	a.onSegmentEnded(vad.Segment{End: 100 * time.Millisecond, Duration: 100 * time.Millisecond})
	if got := len(exp.GetSpans()); got != 0 {
		t.Fatalf("%d spans exported before the response arrived", got)
	}

	a.handleServerMessage(stream.Inbound{
		Type:        stream.TypeChatbotResponse,
		Response:    "ok",
		BackendUsed: "stub",
	})

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "segment.round_trip" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "segment.round_trip")
	}
	var backend string
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == "backend_used" {
			backend = kv.Value.AsString()
		}
	}
	if backend != "stub" {
		t.Errorf("backend_used attribute = %q, want %q", backend, "stub")
	}

	// A response with no matching segment ends nothing.
	a.handleServerMessage(stream.Inbound{Type: stream.TypeChatbotResponse, Response: "again"})
	if got := len(exp.GetSpans()); got != 1 {
		t.Errorf("exported %d spans after an unmatched response, want 1", got)
	}

	// A segment whose response never arrives is closed on teardown.
	a.onSegmentEnded(vad.Segment{Duration: 50 * time.Millisecond})
	a.teardown()
	if got := len(exp.GetSpans()); got != 2 {
		t.Errorf("exported %d spans after teardown, want 2", got)
	}
}
