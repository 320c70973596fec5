// Package whisper provides whisper.cpp-backed implementations of
// [recognizer.Engine].
//
// Two flavours are available:
//
//   - [Engine] connects to a running whisper-server binary (REST API at
//     POST /inference) over HTTP.
//   - [NativeEngine] links whisper.cpp directly via its CGO bindings,
//     eliminating HTTP overhead entirely.
//
// whisper.cpp is a batch (non-streaming) transcription engine, so both
// flavours simulate continuous recognition: incoming PCM is buffered, an
// energy-based silence detector segments utterances, and each completed
// utterance is transcribed as one batch request. When interim results are
// requested, a non-final and a final result carrying the same text are
// emitted per utterance — enough to drive wake-phrase matching, which only
// inspects transcript text.
//
// Usage:
//
//	eng, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	sess, err := eng.Start(ctx, recognizer.Config{SampleRate: 16000, Channels: 1})
//	sess.SendAudio(pcmChunk)
//	ev := <-sess.Events()
//	sess.Stop()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM
	// units, max 32 767) below which a chunk is considered silent. 300
	// corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// Compile-time assertion that Engine implements recognizer.Engine.
var _ recognizer.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a flush of the accumulated utterance buffer to whisper.cpp.
// Shorter values produce more responsive transcription at the cost of
// potentially splitting utterances. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(e *Engine) { e.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum duration of audio (ms) that may
// accumulate before a flush is forced regardless of silence. Prevents
// unbounded memory growth during continuous speech. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(e *Engine) { e.maxBufferDurationMs = ms }
}

// Engine implements [recognizer.Engine] backed by a whisper.cpp HTTP server.
// Multiple sessions may be open simultaneously; each maintains its own audio
// buffer and goroutine.
type Engine struct {
	serverURL           string
	model               string
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates an Engine that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:           serverURL,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Start opens a new recognition session. The returned session is ready to
// accept audio immediately; no network connection is established until the
// first utterance flush.
func (e *Engine) Start(ctx context.Context, cfg recognizer.Config) (recognizer.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = e.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		infer: func(ictx context.Context, pcm []byte) (string, error) {
			return e.infer(ictx, pcm, lang, sr, ch)
		},
		sampleRate:          sr,
		channels:            ch,
		interim:             cfg.InterimResults,
		silenceThresholdMs:  e.silenceThresholdMs,
		maxBufferDurationMs: e.maxBufferDurationMs,

		audioCh: make(chan []byte, 256),
		events:  make(chan recognizer.Event, 64),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text.
func (e *Engine) infer(ctx context.Context, pcm []byte, lang string, sampleRate, channels int) (string, error) {
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if e.model != "" {
		if err := mw.WriteField("model", e.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := e.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", &netError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return "", &refusedError{fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)}
	default:
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}

// netError marks inference failures caused by the HTTP transport; the
// session reports these with [recognizer.ErrNetwork].
type netError struct{ err error }

func (e *netError) Error() string { return "whisper: http request: " + e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

// refusedError marks inference requests the server refused; the session
// reports these with [recognizer.ErrServiceNotAllowed].
type refusedError struct{ err error }

func (e *refusedError) Error() string { return e.err.Error() }
func (e *refusedError) Unwrap() error { return e.err }

// ---- session ----------------------------------------------------------------

// session simulates continuous recognition over a batch engine. All mutable
// state driving silence detection and buffering is confined to the
// processLoop goroutine to avoid data races.
type session struct {
	// immutable configuration (set once in Start)
	infer               func(ctx context.Context, pcm []byte) (string, error)
	sampleRate          int
	channels            int
	interim             bool
	silenceThresholdMs  int
	maxBufferDurationMs int

	audioCh chan []byte
	events  chan recognizer.Event

	// lifecycle
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering. Calling SendAudio after Stop returns an
// error.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is stopped")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is stopped")
	}
}

// Events returns the session's event stream.
func (s *session) Events() <-chan recognizer.Event { return s.events }

// Stop flushes any pending speech audio for a final transcription, delivers
// the terminal end event, and closes the event channel. Safe to call more
// than once.
func (s *session) Stop() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, and inference dispatch.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	var (
		buffer    []byte // accumulated PCM for the current utterance
		hadSpeech bool   // true once any high-energy chunk has been buffered
		silenceMs int    // consecutive silence accumulated after speech (ms)
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // safe fallback (16 kHz, mono, 16-bit → 32 B/ms)
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	// doFlush transcribes the current utterance buffer and emits results.
	// It resets the buffer state regardless of outcome.
	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(flushCtx, pcm)
		if err != nil {
			s.emit(recognizer.Event{Type: recognizer.EventError, Code: classify(err), Err: err})
			return
		}
		if text == "" {
			s.emit(recognizer.Event{Type: recognizer.EventError, Code: recognizer.ErrNoSpeech})
			return
		}

		if s.interim {
			s.emit(recognizer.Event{Type: recognizer.EventResult, Result: recognizer.Result{Text: text}})
		}
		s.emit(recognizer.Event{Type: recognizer.EventResult, Result: recognizer.Result{Text: text, Final: true}})
	}

	// flushWithTimeout performs a final flush using a fresh background
	// context, independent of the caller-supplied ctx which may already be
	// cancelled.
	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushWithTimeout()
			s.emit(recognizer.Event{Type: recognizer.EventEnd})
			return

		case <-s.done:
			flushWithTimeout()
			s.emit(recognizer.Event{Type: recognizer.EventEnd})
			return

		case chunk, ok := <-s.audioCh:
			if !ok {
				flushWithTimeout()
				s.emit(recognizer.Event{Type: recognizer.EventEnd})
				return
			}

			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < defaultRMSThreshold {
				// Silent chunk: only relevant once speech has started.
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						doFlush(ctx)
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush(ctx)
				}
			}
		}
	}
}

// emit delivers an event without blocking indefinitely: the channel is
// buffered, and if the consumer has stalled the event is dropped rather
// than deadlocking shutdown.
func (s *session) emit(ev recognizer.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// classify maps an inference error to the recognizer error taxonomy.
func classify(err error) recognizer.ErrorCode {
	var ne *netError
	if errors.As(err, &ne) {
		return recognizer.ErrNetwork
	}
	var re *refusedError
	if errors.As(err, &re) {
		return recognizer.ErrServiceNotAllowed
	}
	return recognizer.ErrInternal
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container suitable for direct inclusion in a multipart upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, expressed in PCM sample units (0–32 767).
// Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM audio chunk in milliseconds.
// Returns 0 for invalid inputs.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
