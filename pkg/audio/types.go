package audio

import "time"

// Frame represents a single frame of captured audio flowing through the
// pipeline. Frames are the atomic unit of transport — produced by a capture
// [Source], measured by the energy monitor, and encoded by the recording
// controller.
type Frame struct {
	// PCM audio data, 16-bit signed little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for recognition input, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration
}

// Duration returns the wall-clock span of audio contained in the frame,
// derived from the PCM byte count and the frame's format. Returns zero for
// frames with an unset sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
