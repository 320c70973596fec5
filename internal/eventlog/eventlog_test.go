package eventlog

import (
	"fmt"
	"sync"
	"testing"
)

func TestLog_SnapshotChronological(t *testing.T) {
	l := New(8)
	l.Info("stream", "connected")
	l.Warn("stream", "reconnecting")
	l.Error("wake", "engine unavailable")

	got := l.Snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(got))
	}
	wantMsgs := []string{"connected", "reconnecting", "engine unavailable"}
	wantLevels := []string{"info", "warn", "error"}
	for i, ev := range got {
		if ev.Message != wantMsgs[i] {
			t.Errorf("event %d message = %q, want %q", i, ev.Message, wantMsgs[i])
		}
		if ev.Level != wantLevels[i] {
			t.Errorf("event %d level = %q, want %q", i, ev.Level, wantLevels[i])
		}
		if ev.Time.IsZero() {
			t.Errorf("event %d has zero time", i)
		}
	}
	if got[2].Time.Before(got[0].Time) {
		t.Error("snapshot out of chronological order")
	}
}

func TestLog_RingWrap(t *testing.T) {
	l := New(4)
	for i := 0; i < 10; i++ {
		l.Info("test", fmt.Sprintf("event %d", i))
	}

	got := l.Snapshot()
	if len(got) != 4 {
		t.Fatalf("snapshot length = %d, want capacity 4", len(got))
	}
	for i, ev := range got {
		want := fmt.Sprintf("event %d", 6+i)
		if ev.Message != want {
			t.Errorf("event %d = %q, want %q", i, ev.Message, want)
		}
	}
	if l.Total() != 10 {
		t.Errorf("Total = %d, want 10", l.Total())
	}
}

func TestLog_Empty(t *testing.T) {
	l := New(0) // default capacity
	if got := l.Snapshot(); len(got) != 0 {
		t.Errorf("empty snapshot length = %d", len(got))
	}
	if l.Total() != 0 {
		t.Errorf("Total = %d, want 0", l.Total())
	}
}

func TestLog_ConcurrentRecord(t *testing.T) {
	l := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Info("worker", "tick")
			}
		}()
	}
	wg.Wait()

	if l.Total() != 200 {
		t.Errorf("Total = %d, want 200", l.Total())
	}
	if got := len(l.Snapshot()); got != 16 {
		t.Errorf("snapshot length = %d, want 16", got)
	}
}
