package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// InboundType classifies a client frame.
type InboundType string

const (
	InboundText              InboundType = "text"
	InboundPlaybackCompleted InboundType = "audio_playback_completed"
	InboundASRAudioChunk     InboundType = "asr_audio_chunk"
	InboundPing              InboundType = "ping"
)

// Inbound is a decoded client frame. Field relevance depends on Type.
type Inbound struct {
	Type      InboundType `json:"type"`
	SessionID string      `json:"sessionId"`

	// Text frames. User selects the preference profile for the turn; empty
	// means the default profile.
	Content     string `json:"content,omitempty"`
	User        string `json:"user,omitempty"`
	PersonaName string `json:"personaName,omitempty"`
	Interrupt   bool   `json:"interrupt,omitempty"`

	// audio_playback_completed frames.
	SentenceID string `json:"sentenceId,omitempty"`

	// asr_audio_chunk frames. Audio is base64 on the wire.
	Audio     []byte `json:"audio,omitempty"`
	Format    string `json:"format,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ErrInvalidFrame marks a malformed inbound frame. Wrapping errors carry the
// specific field failure.
var ErrInvalidFrame = errors.New("chat: invalid inbound frame")

// DecodeInbound parses and validates one JSON frame. Unknown types and
// missing required fields return an error wrapping ErrInvalidFrame.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch in.Type {
	case InboundText:
		if in.SessionID == "" {
			return nil, fmt.Errorf("%w: text frame missing sessionId", ErrInvalidFrame)
		}
		if in.Content == "" {
			return nil, fmt.Errorf("%w: text frame missing content", ErrInvalidFrame)
		}
	case InboundPlaybackCompleted:
		if in.SessionID == "" || in.SentenceID == "" {
			return nil, fmt.Errorf("%w: audio_playback_completed frame missing sessionId or sentenceId", ErrInvalidFrame)
		}
	case InboundASRAudioChunk:
		if in.SessionID == "" {
			return nil, fmt.Errorf("%w: asr_audio_chunk frame missing sessionId", ErrInvalidFrame)
		}
		if len(in.Audio) == 0 {
			return nil, fmt.Errorf("%w: asr_audio_chunk frame missing audio", ErrInvalidFrame)
		}
	case InboundPing:
		// Keepalive carries no required payload.
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, in.Type)
	}
	return &in, nil
}
