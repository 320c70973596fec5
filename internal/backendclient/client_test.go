package backendclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// backendStub is a minimal HTTP backend with scriptable status codes.
type backendStub struct {
	mu           sync.Mutex
	healthStatus int
	uploadStatus int
	textStatus   int
	uploads      []uploadSeen
	transcripts  []string
	sessionIDs   []string
}

type uploadSeen struct {
	filename string
	size     int
}

func newBackendStub(t *testing.T) (*backendStub, *Client) {
	t.Helper()
	b := &backendStub{
		healthStatus: http.StatusOK,
		uploadStatus: http.StatusOK,
		textStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(b.status(&b.healthStatus))
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		status := b.status(&b.uploadStatus)
		if status != http.StatusOK {
			http.Error(w, "upload refused", status)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		b.mu.Lock()
		b.uploads = append(b.uploads, uploadSeen{filename: header.Filename, size: len(data)})
		b.mu.Unlock()
		fmt.Fprintf(w, `{"status":"saved","filename":%q}`, header.Filename)
	})
	mux.HandleFunc("POST /transcription", func(w http.ResponseWriter, r *http.Request) {
		status := b.status(&b.textStatus)
		if status != http.StatusOK {
			http.Error(w, "backend error", status)
			return
		}
		var req struct {
			Text      string `json:"text"`
			SessionID string `json:"session_id"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		b.mu.Lock()
		b.transcripts = append(b.transcripts, req.Text)
		b.sessionIDs = append(b.sessionIDs, req.SessionID)
		b.mu.Unlock()
		fmt.Fprintf(w, `{"response":"echo: %s","backend_used":"test"}`, req.Text)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithSessionID("sess-42"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return b, c
}

func (b *backendStub) status(field *int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *field
}

func (b *backendStub) setStatus(field *int, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*field = status
}

func TestNewClient_RejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/path"} {
		if _, err := NewClient(raw); err == nil {
			t.Errorf("NewClient(%q) succeeded, want error", raw)
		}
	}
}

func TestClient_Health(t *testing.T) {
	b, c := newBackendStub(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	b.setStatus(&b.healthStatus, http.StatusServiceUnavailable)
	err := c.Health(ctx)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Health with failing backend = %v, want ErrUnavailable", err)
	}
}

func TestClient_HealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Health(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Health against closed server = %v, want ErrUnavailable", err)
	}
}

func TestClient_UploadRecording(t *testing.T) {
	b, c := newBackendStub(t)

	res, err := c.UploadRecording(context.Background(), "segment-123.opus",
		strings.NewReader("opus bytes"))
	if err != nil {
		t.Fatalf("UploadRecording: %v", err)
	}
	if res.Status != "saved" || res.Filename != "segment-123.opus" {
		t.Errorf("result = %+v", res)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.uploads) != 1 {
		t.Fatalf("uploads seen = %d, want 1", len(b.uploads))
	}
	if b.uploads[0].filename != "segment-123.opus" || b.uploads[0].size != len("opus bytes") {
		t.Errorf("upload seen = %+v", b.uploads[0])
	}
}

func TestClient_UploadRejectsExtensionLocally(t *testing.T) {
	b, c := newBackendStub(t)

	_, err := c.UploadRecording(context.Background(), "malware.exe", strings.NewReader("x"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("upload of .exe = %v, want ErrRejected", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.uploads) != 0 {
		t.Errorf("rejected file reached the backend")
	}
}

func TestClient_UploadAcceptedExtensions(t *testing.T) {
	_, c := newBackendStub(t)

	for _, name := range []string{"a.webm", "a.opus", "a.ogg", "a.wav", "a.m4a", "a.txt", "A.WAV"} {
		if _, err := c.UploadRecording(context.Background(), name, strings.NewReader("x")); err != nil {
			t.Errorf("UploadRecording(%q): %v", name, err)
		}
	}
}

func TestClient_UploadErrorMapping(t *testing.T) {
	b, c := newBackendStub(t)
	ctx := context.Background()

	b.setStatus(&b.uploadStatus, http.StatusBadRequest)
	_, err := c.UploadRecording(ctx, "a.opus", strings.NewReader("x"))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("400 mapped to %v, want ErrRejected", err)
	}

	b.setStatus(&b.uploadStatus, http.StatusRequestEntityTooLarge)
	_, err = c.UploadRecording(ctx, "a.opus", strings.NewReader("x"))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("413 mapped to %v, want ErrTooLarge", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("ErrTooLarge does not wrap ErrRejected")
	}
}

func TestClient_SendTranscriptionText(t *testing.T) {
	b, c := newBackendStub(t)

	res, err := c.SendTranscriptionText(context.Background(), "turn on the lights")
	if err != nil {
		t.Fatalf("SendTranscriptionText: %v", err)
	}
	if res.Response != "echo: turn on the lights" || res.BackendUsed != "test" {
		t.Errorf("response = %+v", res)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.transcripts) != 1 || b.transcripts[0] != "turn on the lights" {
		t.Errorf("transcripts seen = %v", b.transcripts)
	}
	if len(b.sessionIDs) != 1 || b.sessionIDs[0] != "sess-42" {
		t.Errorf("session IDs seen = %v, want [sess-42]", b.sessionIDs)
	}
}

// Repeated server failures trip the circuit breaker; once open, calls fail
// fast with ErrUnavailable instead of hitting the backend.
func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	b, c := newBackendStub(t)
	ctx := context.Background()
	b.setStatus(&b.uploadStatus, http.StatusInternalServerError)

	// Three consecutive backend failures trip the recorder's breaker.
	for i := 0; i < 3; i++ {
		if _, err := c.UploadRecording(ctx, "a.opus", strings.NewReader("x")); err == nil {
			t.Fatalf("upload %d succeeded against a 500 backend", i)
		}
	}

	b.mu.Lock()
	before := len(b.uploads)
	b.mu.Unlock()
	_, err := c.UploadRecording(ctx, "a.opus", strings.NewReader("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("upload with open breaker = %v, want ErrUnavailable", err)
	}
	b.mu.Lock()
	after := len(b.uploads)
	b.mu.Unlock()
	if after != before {
		t.Errorf("request reached the backend while the breaker was open")
	}

	// The health probe bypasses the breaker entirely.
	if err := c.Health(ctx); err != nil {
		t.Errorf("Health blocked by open breaker: %v", err)
	}
}

// Client-side rejections do not count as backend failures.
func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	_, c := newBackendStub(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := c.UploadRecording(ctx, "bad.exe", strings.NewReader("x")); !errors.Is(err, ErrRejected) {
			t.Fatalf("upload %d = %v, want ErrRejected", i, err)
		}
	}

	// A valid upload still goes through.
	if _, err := c.UploadRecording(ctx, "good.opus", strings.NewReader("x")); err != nil {
		t.Errorf("valid upload after rejections: %v", err)
	}
}
