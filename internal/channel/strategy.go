// Package channel implements the per-turn output strategies that turn the
// filtered LLM dialogue stream into outbound chat messages.
//
// Four modes exist: text_only (chunk-level text, no TTS), char_stream_tts
// (chunk-level text plus out-of-order sentence audio), sentence_sync (serial
// bubble/audio pairs paced by client playback acknowledgements), and mixed
// (char_stream_tts on the chat window concurrently with sentence_sync on the
// avatar channel).
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/prefs"
	"github.com/kaiwa-ai/kaiwa/internal/ttspool"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// Strategy consumes the dialogue portion of one LLM stream and emits
// outbound messages. ProcessChunk is called once per dialogue chunk in
// arrival order; OnStreamComplete drains pending work and emits the terminal
// streamComplete message. A Strategy instance serves exactly one turn.
type Strategy interface {
	ProcessChunk(ctx context.Context, text string) error
	OnStreamComplete(ctx context.Context) error
}

// Emitter delivers one outbound message. The per-session writer behind it
// serializes frames, so Emit may be called from concurrent goroutines.
type Emitter interface {
	Emit(ctx context.Context, m chat.Message) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, m chat.Message) error

func (f EmitterFunc) Emit(ctx context.Context, m chat.Message) error { return f(ctx, m) }

// PlaybackWaiter blocks until the client acknowledges playback of a sentence
// or the timeout elapses. chat.Session satisfies this.
type PlaybackWaiter interface {
	WaitPlayback(ctx context.Context, sentenceID string, timeout time.Duration) bool
}

// Config carries the shared dependencies and per-turn settings for a
// strategy instance.
type Config struct {
	SessionID string
	Emitter   Emitter

	// Pool is required for the TTS modes.
	Pool *ttspool.Pool

	// Playback is required for sentence_sync.
	Playback PlaybackWaiter

	// Cancelled is polled before dispatch steps. Nil means never cancelled.
	Cancelled func() bool

	SpeakerID string
	Speed     float64
	Format    string

	// WindowSpeakerID and WindowSpeed override SpeakerID and Speed for the
	// chat-window side of mixed mode, so the two surfaces can run distinct
	// voices. Empty and zero fall back to SpeakerID and Speed.
	WindowSpeakerID string
	WindowSpeed     float64

	// ChunkSize re-slices outbound text into at most this many runes per
	// message; ChunkDelay paces successive pieces. Zero leaves the stream's
	// own chunking unmodified and unpaced.
	ChunkSize  int
	ChunkDelay time.Duration

	// AwaitTimeout bounds the wait for one synthesis future. Zero uses the
	// pool default.
	AwaitTimeout time.Duration

	// DrainTimeout bounds the whole OnStreamComplete drain in
	// char_stream_tts. Zero derives it from AwaitTimeout.
	DrainTimeout time.Duration

	// BubbleTimeout is the fixed part of the sentence_sync playback wait;
	// the variable part is estimated from the sentence length.
	BubbleTimeout time.Duration
}

func (c Config) cancelled() bool {
	return c.Cancelled != nil && c.Cancelled()
}

func (c Config) awaitTimeout() time.Duration {
	if c.AwaitTimeout > 0 {
		return c.AwaitTimeout
	}
	return ttspool.DefaultTimeout
}

func (c Config) drainTimeout() time.Duration {
	if c.DrainTimeout > 0 {
		return c.DrainTimeout
	}
	return c.awaitTimeout() + 5*time.Second
}

// New builds the strategy for mode. The chat window carries text_only and
// char_stream_tts; sentence_sync runs on the avatar channel; mixed runs both
// surfaces against the same stream.
func New(mode prefs.Mode, cfg Config) (Strategy, error) {
	switch mode {
	case prefs.ModeTextOnly:
		return newTextOnly(cfg, types.ChannelChatWindow), nil
	case prefs.ModeCharStreamTTS:
		if cfg.Pool == nil {
			return nil, fmt.Errorf("channel: mode %q needs a TTS pool", mode)
		}
		return newCharStream(cfg, types.ChannelChatWindow), nil
	case prefs.ModeSentenceSync:
		if cfg.Pool == nil || cfg.Playback == nil {
			return nil, fmt.Errorf("channel: mode %q needs a TTS pool and playback waiter", mode)
		}
		return newSentenceSync(cfg, types.ChannelLive2D), nil
	case prefs.ModeMixed:
		if cfg.Pool == nil || cfg.Playback == nil {
			return nil, fmt.Errorf("channel: mode %q needs a TTS pool and playback waiter", mode)
		}
		return newMixed(cfg), nil
	}
	return nil, fmt.Errorf("channel: unknown mode %q", mode)
}

// emitText sends dialogue text on ch, re-sliced to cfg.ChunkSize runes per
// message and paced by cfg.ChunkDelay between pieces when configured.
func emitText(ctx context.Context, cfg Config, ch types.Channel, text string) error {
	if cfg.ChunkSize <= 0 {
		return cfg.Emitter.Emit(ctx, chat.NewText(cfg.SessionID, ch, text))
	}
	runes := []rune(text)
	for start := 0; start < len(runes); start += cfg.ChunkSize {
		end := start + cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := cfg.Emitter.Emit(ctx, chat.NewText(cfg.SessionID, ch, string(runes[start:end]))); err != nil {
			return err
		}
		if cfg.ChunkDelay > 0 && end < len(runes) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.ChunkDelay):
			}
		}
	}
	return nil
}

// speechEstimate guesses how long audio for text takes to play, used to
// bound the playback wait. 80ms per rune with a 2s floor.
func speechEstimate(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * 80 * time.Millisecond
	if d < 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
