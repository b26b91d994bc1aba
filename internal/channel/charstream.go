package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/stream"
	"github.com/kaiwa-ai/kaiwa/internal/ttspool"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// charStream streams text at chunk granularity and, in parallel, cuts the
// same stream into sentences for TTS. Audio messages arrive out of order
// with respect to text; the sentenceId ties them back together on the
// client.
type charStream struct {
	cfg Config
	ch  types.Channel

	buf       stream.SentenceBuffer
	order     int
	collector ttspool.Collector

	// mu serialises straggler audio emission against the terminal message.
	// Once closed is set, no further audio or tts_error leaves this turn.
	mu     sync.Mutex
	closed bool
}

var _ Strategy = (*charStream)(nil)

func newCharStream(cfg Config, ch types.Channel) *charStream {
	return &charStream{cfg: cfg, ch: ch}
}

func (s *charStream) ProcessChunk(ctx context.Context, text string) error {
	if text == "" || s.cfg.cancelled() {
		return nil
	}
	if err := emitText(ctx, s.cfg, s.ch, text); err != nil {
		return err
	}
	for _, sentence := range s.buf.Write(text) {
		s.enqueue(ctx, sentence)
	}
	return nil
}

// OnStreamComplete flushes the trailing partial sentence, awaits all
// in-flight syntheses for the turn, and emits the terminal message. The
// drain is bounded; when it times out, the terminal message goes out under
// the same lock the stragglers emit under, so no audio can land after it.
func (s *charStream) OnStreamComplete(ctx context.Context) error {
	if tail := s.buf.Finish(); tail != "" && !s.cfg.cancelled() {
		s.enqueue(ctx, tail)
	}
	if !s.collector.Wait(ctx, s.cfg.drainTimeout()) {
		slog.Warn("audio drain incomplete, closing turn",
			"session_id", s.cfg.SessionID, "channel", s.ch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.cfg.Emitter.Emit(ctx, chat.NewStreamEnd(s.cfg.SessionID, s.ch))
}

// enqueue submits one sentence to the pool and spawns the goroutine that
// emits its audio (or tts_error) when the future resolves.
func (s *charStream) enqueue(ctx context.Context, text string) {
	sentence := types.Sentence{Text: text, Order: s.order, SessionID: s.cfg.SessionID}
	s.order++

	fut := s.cfg.Pool.Submit(ctx, ttspool.Task{
		SessionID: s.cfg.SessionID,
		Sentence:  sentence,
		SpeakerID: s.cfg.SpeakerID,
		Speed:     s.cfg.Speed,
		Format:    s.cfg.Format,
	}, s.cfg.Cancelled)

	s.collector.Go(func() {
		res := ttspool.Await(ctx, fut, s.cfg.awaitTimeout())
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.cfg.cancelled() {
			return
		}
		if res.Err != nil {
			_ = s.cfg.Emitter.Emit(ctx, chat.NewTTSError(s.cfg.SessionID, s.ch, sentence, res.Err.Error()))
			return
		}
		_ = s.cfg.Emitter.Emit(ctx, chat.NewAudio(s.cfg.SessionID, s.ch, sentence, res.Audio, s.cfg.Format))
	})
}
