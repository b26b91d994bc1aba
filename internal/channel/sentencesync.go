package channel

import (
	"context"
	"log/slog"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/stream"
	"github.com/kaiwa-ai/kaiwa/internal/ttspool"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// sentenceSync buffers whole sentences during streaming and plays them back
// serially once the LLM is done: bubble text, then audio, then the client's
// playback acknowledgement, then the next sentence. Text and audio for order
// N are always emitted before anything for order N+1.
type sentenceSync struct {
	cfg Config
	ch  types.Channel

	buf       stream.SentenceBuffer
	sentences []string
}

var _ Strategy = (*sentenceSync)(nil)

func newSentenceSync(cfg Config, ch types.Channel) *sentenceSync {
	return &sentenceSync{cfg: cfg, ch: ch}
}

// ProcessChunk accumulates sentences; nothing is emitted while the LLM is
// still streaming.
func (s *sentenceSync) ProcessChunk(ctx context.Context, text string) error {
	if text == "" || s.cfg.cancelled() {
		return nil
	}
	s.sentences = append(s.sentences, s.buf.Write(text)...)
	return nil
}

// OnStreamComplete runs the serial drain loop. A synthesis failure emits
// tts_error and advances as if the playback acknowledgement had arrived, so
// the bubble track is never blocked by a broken TTS backend.
func (s *sentenceSync) OnStreamComplete(ctx context.Context) error {
	if tail := s.buf.Finish(); tail != "" {
		s.sentences = append(s.sentences, tail)
	}

	for order, text := range s.sentences {
		if s.cfg.cancelled() || ctx.Err() != nil {
			break
		}
		if err := s.playSentence(ctx, types.Sentence{Text: text, Order: order, SessionID: s.cfg.SessionID}); err != nil {
			return err
		}
	}
	return s.cfg.Emitter.Emit(ctx, chat.NewStreamEnd(s.cfg.SessionID, s.ch))
}

func (s *sentenceSync) playSentence(ctx context.Context, sentence types.Sentence) error {
	bubble := chat.NewText(s.cfg.SessionID, s.ch, sentence.Text)
	bubble.SentenceID = sentence.ID(s.ch)
	bubble.SentenceOrder = sentence.Order
	bubble.SentenceComplete = true
	if err := s.cfg.Emitter.Emit(ctx, bubble); err != nil {
		return err
	}

	fut := s.cfg.Pool.Submit(ctx, ttspool.Task{
		SessionID: s.cfg.SessionID,
		Sentence:  sentence,
		SpeakerID: s.cfg.SpeakerID,
		Speed:     s.cfg.Speed,
		Format:    s.cfg.Format,
	}, s.cfg.Cancelled)

	res := ttspool.Await(ctx, fut, s.cfg.awaitTimeout())
	if res.Err != nil {
		// Advance without waiting for an acknowledgement that will never come.
		return s.cfg.Emitter.Emit(ctx, chat.NewTTSError(s.cfg.SessionID, s.ch, sentence, res.Err.Error()))
	}

	if err := s.cfg.Emitter.Emit(ctx, chat.NewAudio(s.cfg.SessionID, s.ch, sentence, res.Audio, s.cfg.Format)); err != nil {
		return err
	}

	wait := s.cfg.BubbleTimeout + speechEstimate(sentence.Text)
	if !s.cfg.Playback.WaitPlayback(ctx, sentence.ID(s.ch), wait) {
		slog.Debug("playback acknowledgement missed, advancing",
			"session_id", s.cfg.SessionID, "sentence_order", sentence.Order)
	}
	return nil
}
