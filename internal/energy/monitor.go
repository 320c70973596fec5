// Package energy computes frame-level loudness for voice activity detection.
//
// The [Monitor] consumes raw capture frames, computes a normalized
// root-mean-square loudness per frame, classifies it against the configured
// thresholds, and publishes the result to subscribers synchronously: one
// [Sample] per frame, in frame order. Sampling need not be strictly
// periodic: a dropped frame under load simply delays the next sample by one
// tick and must not corrupt downstream state.
package energy

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/PratikLad0/vad-detection/pkg/audio"
)

// Classification buckets a frame's loudness.
type Classification int

const (
	// ClassSilence means the frame is below the silence floor.
	ClassSilence Classification = iota

	// ClassNoise means the frame is between the silence floor and the
	// speech threshold, audible but not speech.
	ClassNoise

	// ClassSpeech means the frame exceeds the speech threshold.
	ClassSpeech
)

// String returns the human-readable name of the classification.
func (c Classification) String() string {
	switch c {
	case ClassSilence:
		return "silence"
	case ClassNoise:
		return "noise"
	case ClassSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Thresholds holds the effective RMS levels after sensitivity scaling.
// All values are on the normalized [0,1] scale where 1.0 is full-scale
// 16-bit PCM.
type Thresholds struct {
	// SilenceRMS is the floor below which a frame is silence.
	SilenceRMS float64

	// SpeechRMS is the level above which a frame is speech. Also the
	// reference level for loudness normalization.
	SpeechRMS float64
}

// NewThresholds derives effective thresholds from base levels and a
// sensitivity parameter in [0,1]:
//
//	silence = baseSilence * (1 + sensitivity)
//	speech  = baseSpeech  * (1 + 2*sensitivity)
func NewThresholds(baseSilence, baseSpeech, sensitivity float64) Thresholds {
	return Thresholds{
		SilenceRMS: baseSilence * (1 + sensitivity),
		SpeechRMS:  baseSpeech * (1 + 2*sensitivity),
	}
}

// Classify buckets an RMS value against the thresholds.
func (t Thresholds) Classify(rms float64) Classification {
	switch {
	case rms < t.SilenceRMS:
		return ClassSilence
	case rms > t.SpeechRMS:
		return ClassSpeech
	default:
		return ClassNoise
	}
}

// Normalize maps an RMS value to [0,1] against the speech reference level.
func (t Thresholds) Normalize(rms float64) float64 {
	if t.SpeechRMS <= 0 {
		return 0
	}
	return math.Min(rms/t.SpeechRMS, 1)
}

// Sample is one frame's loudness measurement. Ephemeral: produced and
// consumed within a single tick, never stored.
type Sample struct {
	// RMS is the root-mean-square amplitude on the normalized [0,1] scale.
	RMS float64

	// Normalized is RMS scaled against the speech reference, capped at 1.
	Normalized float64

	// Class is the threshold classification of this frame.
	Class Classification

	// Timestamp is the frame's capture time relative to session start.
	Timestamp time.Duration
}

// ErrSourceGone is reported through the monitor's error callback when the
// capture source delivers an empty frame, which only happens when the
// underlying device has become unavailable. It is a fatal session error.
var ErrSourceGone = errors.New("energy: audio source delivered no data")

// Monitor computes one [Sample] per capture frame and fans it out to
// subscribers synchronously, in registration order. The monitor itself keeps
// no cross-frame state; it is driven entirely by [Monitor.Process].
//
// Subscribe and OnError must be called before the first Process call;
// Process is then safe to call from the single capture goroutine.
type Monitor struct {
	thresholds Thresholds
	subs       []func(Sample)
	onError    func(error)
}

// NewMonitor creates a Monitor with the given thresholds.
func NewMonitor(t Thresholds) *Monitor {
	return &Monitor{thresholds: t}
}

// Thresholds returns the monitor's effective thresholds.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Subscribe registers fn to receive every sample. Subscribers are invoked
// synchronously from Process in registration order and must not block.
func (m *Monitor) Subscribe(fn func(Sample)) {
	m.subs = append(m.subs, fn)
}

// OnError registers the callback invoked when the audio source fails.
// Only one callback may be registered; subsequent calls replace it.
func (m *Monitor) OnError(fn func(error)) {
	m.onError = fn
}

// Process measures one frame and publishes the sample. An empty frame is
// surfaced as a fatal source error rather than silently skipped.
func (m *Monitor) Process(frame audio.Frame) {
	if len(frame.Data) == 0 {
		if m.onError != nil {
			m.onError(ErrSourceGone)
		}
		return
	}

	rms := RMS(frame.Data)
	s := Sample{
		RMS:        rms,
		Normalized: m.thresholds.Normalize(rms),
		Class:      m.thresholds.Classify(rms),
		Timestamp:  frame.Timestamp,
	}
	for _, fn := range m.subs {
		fn(s)
	}
}

// RMS returns the root-mean-square amplitude of a 16-bit signed
// little-endian PCM buffer, normalized to [0,1] where 1.0 is full scale.
// Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
