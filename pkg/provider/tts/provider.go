// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Python
// synthesis sidecar or a hosted API) and presents a uniform per-sentence
// interface. Synthesis is batch-mode: one call per sentence, returning the
// encoded audio bytes. Streaming pipelining across sentences is the job of the
// worker pool that sits above this interface, not of the provider itself.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// SynthesisRequest carries one sentence to be synthesised.
type SynthesisRequest struct {
	// Text is the sentence to speak. Must be non-empty.
	Text string

	// SpeakerID selects the voice. An empty value uses the backend default.
	SpeakerID string

	// Speed adjusts speaking rate (0.5–2.0). Zero means backend default.
	Speed float64

	// Format is the requested audio container, e.g. "wav" or "mp3". An empty
	// value uses the backend default.
	Format string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel (the worker pool dispatches up to its concurrency limit
// at once).
type Provider interface {
	// Synthesize converts req.Text into encoded audio and returns the raw
	// bytes in the requested format. The call blocks until the backend
	// responds or ctx is cancelled.
	//
	// Returns an error if the backend is unreachable, responds with a
	// non-success status, or produces no audio. Implementations must not
	// return a nil byte slice together with a nil error.
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)

	// ListSpeakers returns all speaker profiles available from this provider.
	// The list reflects the backend's current catalogue and may change between
	// calls.
	ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error)
}
