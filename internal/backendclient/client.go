// Package backendclient is the HTTP side of the backend API: the health
// probe that gates transport startup, finished-recording uploads, and the
// text-only transcription path.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PratikLad0/vad-detection/internal/resilience"
)

// ErrUnavailable wraps health-check failures so callers can distinguish an
// unreachable backend from a request-level error.
var ErrUnavailable = errors.New("backend unavailable")

// ErrRejected is the base for 4xx upload failures.
var ErrRejected = errors.New("backend rejected upload")

// ErrTooLarge marks a 413 response: the recording exceeded the backend's
// size limit.
var ErrTooLarge = fmt.Errorf("%w: file too large", ErrRejected)

// acceptedExtensions mirrors the backend's upload allow-list.
var acceptedExtensions = map[string]bool{
	".webm": true,
	".opus": true,
	".ogg":  true,
	".wav":  true,
	".m4a":  true,
	".txt":  true,
}

// Client talks to the backend over plain HTTP. A circuit breaker guards the
// mutating endpoints so a struggling backend fails fast instead of stacking
// request timeouts; the health probe bypasses it, since the probe is how
// recovery is observed.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
	breaker   *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSessionID sets the capture session ID sent with requests that need a
// correlation key, such as text-only transcriptions.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("backendclient: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		// Calls here are per-segment, seconds apart, with a 30 s request
		// timeout behind them: three straight failures already cost over a
		// minute of stalled uploads, so trip early and probe again quickly.
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "backend",
			MaxFailures:  3,
			ResetTimeout: 10 * time.Second,
			HalfOpenMax:  2,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health probes GET /health. Transport startup is gated on this: a failure
// means the recorder stays in its disconnected state instead of opening a
// socket that would immediately drop.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("backendclient: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w at %s: status %d", ErrUnavailable, c.baseURL, resp.StatusCode)
	}
	return nil
}

// UploadResult is the backend's response to a stored recording.
type UploadResult struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// UploadRecording sends a finished recording as multipart form data under
// the "file" field. The filename's extension must be in the backend's
// accept set; 400 and 413 responses map to distinct errors.
func (c *Client) UploadRecording(ctx context.Context, filename string, data io.Reader) (*UploadResult, error) {
	var result *UploadResult
	var callErr error
	err := c.breaker.Execute(func() error {
		result, callErr = c.uploadRecording(ctx, filename, data)
		// Rejections are the caller's fault; don't count them against
		// the backend.
		if errors.Is(callErr, ErrRejected) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w at %s: %v", ErrUnavailable, c.baseURL, err)
	}
	return result, callErr
}

func (c *Client) uploadRecording(ctx context.Context, filename string, data io.Reader) (*UploadResult, error) {
	ext := strings.ToLower(path.Ext(filename))
	if !acceptedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrRejected, ext)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("backendclient: build multipart body: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("backendclient: read recording: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backendclient: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("backendclient: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backendclient: upload: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrRejected, readDetail(resp.Body))
	case http.StatusRequestEntityTooLarge:
		return nil, ErrTooLarge
	default:
		return nil, fmt.Errorf("backendclient: upload failed with status %d: %s",
			resp.StatusCode, readDetail(resp.Body))
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("backendclient: decode upload response: %w", err)
	}
	return &result, nil
}

// TextResponse is the backend's reply to a text-only transcription.
type TextResponse struct {
	Response    string `json:"response"`
	BackendUsed string `json:"backend_used"`
}

// SendTranscriptionText submits a transcript without audio, for text-only
// mode where the recognizer runs locally and no recording is streamed.
func (c *Client) SendTranscriptionText(ctx context.Context, text string) (*TextResponse, error) {
	var result *TextResponse
	var callErr error
	err := c.breaker.Execute(func() error {
		result, callErr = c.sendTranscriptionText(ctx, text)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w at %s: %v", ErrUnavailable, c.baseURL, err)
	}
	return result, callErr
}

// transcriptionRequest is the /transcription body. The session ID lets the
// backend correlate text-only submissions with the client session the same
// way the streaming handshake does.
type transcriptionRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

func (c *Client) sendTranscriptionText(ctx context.Context, text string) (*TextResponse, error) {
	payload, _ := json.Marshal(transcriptionRequest{Text: text, SessionID: c.sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcription", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backendclient: build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backendclient: send transcription: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backendclient: transcription failed with status %d: %s",
			resp.StatusCode, readDetail(resp.Body))
	}

	var out TextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("backendclient: decode transcription response: %w", err)
	}
	return &out, nil
}

func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "no detail"
	}
	return s
}
