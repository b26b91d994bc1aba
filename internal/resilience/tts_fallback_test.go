package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	ttsmock "github.com/kaiwa-ai/kaiwa/pkg/provider/tts/mock"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

func TestTTSFallbackSynthesizePrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{Audio: []byte("primary-audio")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "你好。"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "primary-audio" {
		t.Fatalf("audio = %q, want primary-audio", string(audio))
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.SynthesizeCalls))
	}
	if len(secondary.SynthesizeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.SynthesizeCalls))
	}
}

func TestTTSFallbackSynthesizeFailover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "你好。"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fallback-audio" {
		t.Fatalf("audio = %q, want fallback-audio", string(audio))
	}
}

func TestTTSFallbackSynthesizeAllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "你好。"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallbackCircuitOpensAfterRepeatedFailures(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	// Two failures trip the primary's breaker; the third call must skip it.
	for i := 0; i < 3; i++ {
		if _, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "测试。"}); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if got := len(primary.SynthesizeCalls); got != 2 {
		t.Fatalf("primary called %d times, want 2 (breaker should skip it afterwards)", got)
	}
	if got := len(secondary.SynthesizeCalls); got != 3 {
		t.Fatalf("secondary called %d times, want 3", got)
	}
}

func TestTTSFallbackListSpeakersFailover(t *testing.T) {
	primary := &ttsmock.Provider{ListSpeakersErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{
		Speakers: []types.SpeakerProfile{
			{ID: "s1", Name: "Alice"},
			{ID: "s2", Name: "Bob"},
		},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	speakers, err := fb.ListSpeakers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(speakers) != 2 {
		t.Fatalf("got %d speakers, want 2", len(speakers))
	}
	if speakers[0].Name != "Alice" {
		t.Fatalf("speakers[0].Name = %q, want Alice", speakers[0].Name)
	}
}
