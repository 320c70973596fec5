// Package vad implements the voice-activity gating state machine at the
// heart of the recorder client.
//
// The machine consumes one energy [energy.Sample] per capture frame and one
// wake event per session, and decides when a speech segment opens and
// closes. It drives the recording controller through the configured
// [Hooks], suppresses segment starts during response playback (with a
// barge-in override), and owns the ordered log of finalized segments.
//
// All externally-visible state transitions happen under one mutex, so the
// frame callback, the wake callback, and playback notifications serialize
// exactly as the callbacks of a single-threaded event loop would.
package vad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/PratikLad0/vad-detection/internal/energy"
)

// State enumerates the machine's listening states.
type State int

const (
	// StateIdle means the machine has been torn down (or not started).
	StateIdle State = iota

	// StateArmedWaiting means the wake latch is not yet set: energy is
	// monitored for the UI but speech/silence logic does not run and
	// recording is forbidden.
	StateArmedWaiting

	// StateListening means the wake latch is set and no segment is open.
	StateListening

	// StateSpeaking means a speech segment is open and recording.
	StateSpeaking
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedWaiting:
		return "armed-waiting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Hooks connect the machine to its collaborators. All hooks are invoked
// with the machine's mutex held and must not call back into the machine.
type Hooks struct {
	// StartRecording begins audio capture encoding. An error leaves the
	// machine in Listening (recoverable; never a phantom Speaking state).
	StartRecording func() error

	// StopRecording flushes and stops the recording controller. Must be
	// idempotent.
	StopRecording func()

	// SegmentEnded notifies the transport that the segment closed. Invoked
	// before StopRecording so the backend's segment-end marker is never
	// ordered after the recorder teardown.
	SegmentEnded func(Segment)

	// PlaybackActive reports whether response audio is currently playing.
	PlaybackActive func() bool

	// InterruptPlayback cancels the active playback (barge-in).
	InterruptPlayback func()

	// OnError receives recoverable errors (e.g., the recording controller
	// failing to start). May be nil.
	OnError func(error)
}

// Config holds the machine's tuning parameters.
type Config struct {
	// Thresholds are the effective sensitivity-scaled RMS levels.
	Thresholds energy.Thresholds

	// SilenceDuration is how long loudness must stay at or below the speech
	// threshold before an open segment finalizes.
	SilenceDuration time.Duration

	// BargeInFactor multiplies the speech threshold while playback is
	// active; only frames above the elevated level interrupt playback.
	BargeInFactor float64
}

// Machine is the voice-activity gating state machine. Create with [New];
// drive with [Machine.HandleSample] and [Machine.Wake]; stop with
// [Machine.Teardown]. Safe for concurrent use.
type Machine struct {
	cfg     Config
	hooks   Hooks
	session *Session

	mu       sync.Mutex
	state    State
	segStart time.Duration
	lastLoud time.Duration
	segments []Segment
}

// New creates a Machine in Armed-Waiting for the given session.
func New(session *Session, cfg Config, hooks Hooks) *Machine {
	if cfg.BargeInFactor < 1 {
		cfg.BargeInFactor = 1.5
	}
	return &Machine{
		cfg:     cfg,
		hooks:   hooks,
		session: session,
		state:   StateArmedWaiting,
	}
}

// Wake sets the session's wake latch and transitions Armed-Waiting to
// Listening. The latch is one-way: calling Wake again is a no-op, and
// nothing ever clears it within a session.
func (m *Machine) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIdle {
		return
	}
	if !m.session.wakeArmed {
		m.session.wakeArmed = true
		slog.Info("wake latch set", "session_id", m.session.ID)
	}
	if m.state == StateArmedWaiting {
		m.state = StateListening
	}
}

// HandleSample advances the machine by one frame. Called synchronously from
// the energy monitor for every captured frame, in frame order; a dropped
// frame merely delays the next transition by one tick.
func (m *Machine) HandleSample(s energy.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle, StateArmedWaiting:
		// Monitoring only. No speech/silence evaluation until armed.
		return

	case StateListening:
		m.handleListening(s)

	case StateSpeaking:
		m.handleSpeaking(s)
	}
}

// handleListening evaluates a frame while no segment is open.
func (m *Machine) handleListening(s energy.Sample) {
	if s.RMS <= m.cfg.Thresholds.SpeechRMS {
		return
	}

	if m.hooks.PlaybackActive != nil && m.hooks.PlaybackActive() {
		if s.RMS < m.cfg.Thresholds.SpeechRMS*m.cfg.BargeInFactor {
			// The system's own voice output; not loud enough to barge in.
			return
		}
		if m.hooks.InterruptPlayback != nil {
			m.hooks.InterruptPlayback()
		}
		slog.Info("barge-in", "rms", s.RMS, "at", s.Timestamp)
	}

	if m.hooks.StartRecording != nil {
		if err := m.hooks.StartRecording(); err != nil {
			slog.Warn("recording controller failed to start; staying in listening", "err", err)
			if m.hooks.OnError != nil {
				m.hooks.OnError(err)
			}
			return
		}
	}

	m.state = StateSpeaking
	m.session.speaking = true
	m.segStart = s.Timestamp
	m.lastLoud = s.Timestamp
	slog.Debug("segment opened", "start", s.Timestamp, "rms", s.RMS)
}

// handleSpeaking evaluates a frame while a segment is open.
func (m *Machine) handleSpeaking(s energy.Sample) {
	// Response audio started mid-utterance: close immediately to avoid
	// capturing our own output as input.
	if m.hooks.PlaybackActive != nil && m.hooks.PlaybackActive() {
		m.finalize(s.Timestamp)
		return
	}

	if s.RMS > m.cfg.Thresholds.SpeechRMS {
		m.lastLoud = s.Timestamp
		return
	}

	if s.Timestamp-m.lastLoud >= m.cfg.SilenceDuration {
		m.finalize(s.Timestamp)
	}
}

// finalize closes the open segment at end, appends it to the log, and
// notifies the transport before stopping the recorder. Caller holds mu.
func (m *Machine) finalize(end time.Duration) {
	seg := Segment{
		Start:    m.segStart,
		End:      end,
		Duration: end - m.segStart,
	}
	m.segments = append(m.segments, seg)
	m.state = StateListening
	m.session.speaking = false

	slog.Debug("segment finalized", "start", seg.Start, "end", seg.End, "duration", seg.Duration)

	if m.hooks.SegmentEnded != nil {
		m.hooks.SegmentEnded(seg)
	}
	if m.hooks.StopRecording != nil {
		m.hooks.StopRecording()
	}
}

// AttachTranscript records the backend's transcription against the most
// recently finalized segment. A transcript arriving with no finalized
// segment is dropped — it belongs to audio this client never segmented.
func (m *Machine) AttachTranscript(text, speaker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.segments) == 0 {
		return
	}
	last := &m.segments[len(m.segments)-1]
	last.Transcript = text
	last.Speaker = speaker
}

// Teardown stops the machine. An open segment is abandoned (recording is
// stopped but no segment is appended); the state becomes Idle and all
// subsequent samples and wake events are ignored.
func (m *Machine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSpeaking {
		m.session.speaking = false
		if m.hooks.StopRecording != nil {
			m.hooks.StopRecording()
		}
	}
	m.state = StateIdle
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Segments returns a copy of the finalized segment log, in order.
func (m *Machine) Segments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Snapshot reports the session's UI-driving state variables.
func (m *Machine) Snapshot() (sessionID string, wakeArmed, speaking bool, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID, m.session.wakeArmed, m.session.speaking, m.state
}
