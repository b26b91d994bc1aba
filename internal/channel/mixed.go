package channel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// mixed fans the same dialogue stream out to char_stream_tts on the chat
// window and sentence_sync on the avatar channel. Each side owns its own
// sentence buffer, so the two consume the stream independently.
type mixed struct {
	window *charStream
	avatar *sentenceSync
}

var _ Strategy = (*mixed)(nil)

func newMixed(cfg Config) *mixed {
	// The chat window speaks with its own voice when one is configured;
	// SpeakerID/Speed stay with the avatar side.
	wcfg := cfg
	if cfg.WindowSpeakerID != "" {
		wcfg.SpeakerID = cfg.WindowSpeakerID
	}
	if cfg.WindowSpeed > 0 {
		wcfg.Speed = cfg.WindowSpeed
	}
	return &mixed{
		window: newCharStream(wcfg, types.ChannelChatWindow),
		avatar: newSentenceSync(cfg, types.ChannelLive2D),
	}
}

func (s *mixed) ProcessChunk(ctx context.Context, text string) error {
	if err := s.window.ProcessChunk(ctx, text); err != nil {
		return err
	}
	return s.avatar.ProcessChunk(ctx, text)
}

// OnStreamComplete drains both surfaces concurrently. The avatar drain is
// paced by playback acknowledgements and usually finishes long after the
// chat window.
func (s *mixed) OnStreamComplete(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.window.OnStreamComplete(egCtx) })
	eg.Go(func() error { return s.avatar.OnStreamComplete(egCtx) })
	return eg.Wait()
}
