package channel

import (
	"context"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// textOnly streams every dialogue chunk as a text message and never touches
// TTS.
type textOnly struct {
	cfg Config
	ch  types.Channel
}

var _ Strategy = (*textOnly)(nil)

func newTextOnly(cfg Config, ch types.Channel) *textOnly {
	return &textOnly{cfg: cfg, ch: ch}
}

func (s *textOnly) ProcessChunk(ctx context.Context, text string) error {
	if text == "" || s.cfg.cancelled() {
		return nil
	}
	return emitText(ctx, s.cfg, s.ch, text)
}

func (s *textOnly) OnStreamComplete(ctx context.Context) error {
	return s.cfg.Emitter.Emit(ctx, chat.NewStreamEnd(s.cfg.SessionID, s.ch))
}
