package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PratikLad0/vad-detection/internal/eventlog"
)

func TestStatus_ServesSnapshot(t *testing.T) {
	events := eventlog.New(8)
	events.Info("stream", "connected")
	events.Warn("wake", "engine restart")

	h := NewStatus(func() Snapshot {
		return Snapshot{
			SessionID:       "abc123",
			State:           "listening",
			WakeArmed:       true,
			StreamConnected: true,
			SegmentCount:    2,
		}
	}, events)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if snap.SessionID != "abc123" || snap.State != "listening" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.WakeArmed || snap.Speaking {
		t.Errorf("flags = armed:%v speaking:%v", snap.WakeArmed, snap.Speaking)
	}
	if snap.SegmentCount != 2 {
		t.Errorf("segment count = %d", snap.SegmentCount)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(snap.Events))
	}
	if snap.Events[0].Message != "connected" || snap.Events[1].Component != "wake" {
		t.Errorf("events = %+v", snap.Events)
	}
}

func TestStatus_NilEventLog(t *testing.T) {
	h := NewStatus(func() Snapshot { return Snapshot{State: "idle"} }, nil)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(snap.Events) != 0 {
		t.Errorf("events = %v, want none", snap.Events)
	}
}

func TestStatus_RegisterRoute(t *testing.T) {
	h := NewStatus(func() Snapshot { return Snapshot{} }, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /status = %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", rec.Code)
	}
}
