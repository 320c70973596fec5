// Package mock provides a scriptable in-memory implementation of
// [tts.Provider] for unit tests.
package mock

import (
	"context"
	"sync"
)

// Provider is a mock TTS backend. Each Synthesize call emits the configured
// Chunks and then closes the channel, unless Hold is set, in which case the
// channel stays open until the context is cancelled or [Provider.Release] is
// called — letting tests model an in-progress playback.
type Provider struct {
	mu sync.Mutex

	// SynthesizeError, when non-nil, is returned by Synthesize.
	SynthesizeError error

	// Chunks are the PCM chunks emitted per synthesis. Defaults to a single
	// 320-byte zero chunk when nil.
	Chunks [][]byte

	// Hold keeps the audio channel open after the chunks are emitted.
	Hold bool

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// CallCountSynthesize records how many times Synthesize was called.
	CallCountSynthesize int

	// Texts records every text passed to Synthesize, in order.
	Texts []string

	release chan struct{}
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	p.mu.Lock()
	p.CallCountSynthesize++
	p.Texts = append(p.Texts, text)
	if p.SynthesizeError != nil {
		err := p.SynthesizeError
		p.mu.Unlock()
		return nil, err
	}
	chunks := p.Chunks
	if chunks == nil {
		chunks = [][]byte{make([]byte, 320)}
	}
	hold := p.Hold
	if hold && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-release:
			}
		}
	}()
	return out, nil
}

// Release unblocks a held synthesis, simulating natural playback completion.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		close(p.release)
		p.release = nil
	}
}

// SampleRate implements [tts.Provider].
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}
