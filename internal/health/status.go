package health

import (
	"net/http"

	"github.com/PratikLad0/vad-detection/internal/eventlog"
)

// Snapshot is the JSON body served by /status: the live session state plus
// the retained event log.
type Snapshot struct {
	SessionID       string           `json:"session_id"`
	State           string           `json:"state"`
	WakeArmed       bool             `json:"wake_armed"`
	Speaking        bool             `json:"speaking"`
	StreamConnected bool             `json:"stream_connected"`
	PlaybackActive  bool             `json:"playback_active"`
	SegmentCount    int              `json:"segment_count"`
	Events          []eventlog.Event `json:"events,omitempty"`
}

// StatusHandler serves /status. The snapshot function is called per request
// and must be safe for concurrent use.
type StatusHandler struct {
	snapshot func() Snapshot
	events   *eventlog.Log
}

// NewStatus creates a StatusHandler. events may be nil.
func NewStatus(snapshot func() Snapshot, events *eventlog.Log) *StatusHandler {
	return &StatusHandler{snapshot: snapshot, events: events}
}

// Status serves the current session snapshot as JSON.
func (h *StatusHandler) Status(w http.ResponseWriter, _ *http.Request) {
	snap := h.snapshot()
	if h.events != nil {
		snap.Events = h.events.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

// Register adds the /status route to mux.
func (h *StatusHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", h.Status)
}
