package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestFrame_Duration(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  time.Duration
	}{
		{"20ms mono 16k", Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}, 20 * time.Millisecond},
		{"10ms stereo 16k", Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 2}, 10 * time.Millisecond},
		{"unset rate", Frame{Data: make([]byte, 640)}, 0},
		{"empty", Frame{SampleRate: 16000, Channels: 1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.frame.Duration(); got != tc.want {
				t.Errorf("Duration = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := BytesToInt16s(Int16sToBytes(pcm))
	if len(got) != len(pcm) {
		t.Fatalf("length = %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestBytesToInt16s_OddTrailingByte(t *testing.T) {
	got := BytesToInt16s([]byte{0x01, 0x02, 0x03})
	if len(got) != 1 {
		t.Fatalf("length = %d, want 1", len(got))
	}
	if got[0] != 0x0201 {
		t.Errorf("sample = %#x", got[0])
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := Int16sToBytes([]int16{100, 200, -50, 50, 32767, 32767})
	mono := BytesToInt16s(StereoToMono(stereo))
	want := []int16{150, 0, 32767}
	if len(mono) != len(want) {
		t.Fatalf("length = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestPCMSource_FramesStream(t *testing.T) {
	// 2.5 frames of 20ms mono audio at 16kHz: 640 + 640 + 320 bytes.
	data := make([]byte, 1600)
	for i := range data {
		data[i] = byte(i)
	}
	src := NewPCMSource(bytes.NewReader(data), 16000, 1)

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if err := src.Err(); err != nil {
		t.Fatalf("Err after EOF = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("frames = %d, want 3", len(got))
	}
	for i, f := range got {
		if len(f.Data) != 640 {
			t.Errorf("frame %d length = %d, want 640", i, len(f.Data))
		}
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d format = %d Hz / %d ch", i, f.SampleRate, f.Channels)
		}
		if want := time.Duration(i) * 20 * time.Millisecond; f.Timestamp != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, f.Timestamp, want)
		}
	}

	// The final partial frame is zero-padded.
	last := got[2].Data
	for i := 320; i < 640; i++ {
		if last[i] != 0 {
			t.Errorf("padding byte %d = %d, want 0", i, last[i])
			break
		}
	}
}

func TestPCMSource_StartTwice(t *testing.T) {
	src := NewPCMSource(bytes.NewReader(nil), 16000, 1)
	if _, err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := src.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

// failingReader returns data then a non-EOF error.
type failingReader struct {
	data []byte
	err  error
	off  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func TestPCMSource_ReaderFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	src := NewPCMSource(&failingReader{data: make([]byte, 640), err: boom}, 16000, 1)

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	n := 0
	for range frames {
		n++
	}
	if n != 1 {
		t.Errorf("frames before failure = %d, want 1", n)
	}
	if got := src.Err(); !errors.Is(got, boom) {
		t.Errorf("Err = %v, want wrapped device error", got)
	}
}

// endlessReader yields silence forever, like a live capture pipe.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestPCMSource_ContextCancel(t *testing.T) {
	src := NewPCMSource(endlessReader{}, 16000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the read loop fill the channel buffer and block on the next send,
	// then cancel without consuming anything.
	time.Sleep(50 * time.Millisecond)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				if err := src.Err(); err != nil {
					t.Errorf("Err after cancel = %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("frame channel never closed after cancel")
		}
	}
}

func TestPCMSource_CloseIdempotent(t *testing.T) {
	src := NewPCMSource(io.NopCloser(bytes.NewReader(nil)), 16000, 1)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := src.Start(context.Background()); err == nil {
		t.Error("Start after Close succeeded")
	}
}
