// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio bytes to consumers and to verify the
// requests passed to the TTS backend. Latency and per-call errors are
// scriptable so pool ordering and failure handling can be exercised without a
// live backend.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
// Zero values cause methods to return empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize for every call unless SynthesizeFunc is set.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned from every Synthesize call.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, overrides Audio/SynthesizeErr entirely. Use
	// it to script per-sentence results (e.g., fail only order 1).
	SynthesizeFunc func(ctx context.Context, req tts.SynthesisRequest) ([]byte, error)

	// Latency, if non-zero, is slept (context-aware) before each Synthesize
	// result. Use it to simulate slow backends in ordering tests.
	Latency time.Duration

	// Speakers is returned by ListSpeakers.
	Speakers []types.SpeakerProfile

	// ListSpeakersErr, if non-nil, is returned from ListSpeakers.
	ListSpeakersErr error

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListSpeakersCallCount is the number of times ListSpeakers was called.
	ListSpeakersCallCount int
}

// Synthesize records the call, sleeps Latency, and returns the scripted result.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	audio := p.Audio
	err := p.SynthesizeErr
	latency := p.Latency
	p.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// ListSpeakers records the call and returns Speakers, ListSpeakersErr.
func (p *Provider) ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListSpeakersCallCount++
	return p.Speakers, p.ListSpeakersErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListSpeakersCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
