package resilience

import (
	"context"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one sentence through the first healthy provider. If the
// primary fails or its breaker is open, subsequent fallbacks are tried.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListSpeakers returns available speakers from the first healthy provider.
func (f *TTSFallback) ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.SpeakerProfile, error) {
		return p.ListSpeakers(ctx)
	})
}
