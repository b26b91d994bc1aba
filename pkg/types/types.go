// Package types defines the shared types used across all Kaiwa packages.
//
// These types form the lingua franca between providers, the streaming
// pipeline, and the orchestrator. They are intentionally minimal: each
// package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"strconv"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Channel is a logical output surface with its own delivery strategy.
type Channel string

const (
	// ChannelChatWindow is the incremental chat transcript in the browser.
	ChannelChatWindow Channel = "chat_window"

	// ChannelLive2D is the avatar speech-bubble track, paced by client
	// playback acknowledgements.
	ChannelLive2D Channel = "live2d"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role Role

	// Content is the text content of the message.
	Content string
}

// Sentence is a complete sentence extracted from the LLM token stream.
// Order is assigned at emission time and is strictly monotonically
// increasing within one turn.
type Sentence struct {
	// Text is the trimmed sentence text, terminator included.
	Text string

	// Order is the zero-based position of this sentence within the turn.
	Order int

	// SessionID identifies the owning chat session.
	SessionID string
}

// ID derives the stable sentence identity used to pair text and audio
// messages on a channel: "<channel>:<sessionID>:<order>".
func (s Sentence) ID(ch Channel) string {
	return string(ch) + ":" + s.SessionID + ":" + strconv.Itoa(s.Order)
}

// SpeakerProfile describes a TTS speaker configuration.
type SpeakerProfile struct {
	// ID is the provider-specific speaker identifier.
	ID string

	// Name is the human-readable speaker name.
	Name string

	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default).
	Speed float64

	// Metadata holds provider-specific speaker attributes (gender, language, …).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// HistoryTimeFormat is the timestamp layout used in persisted history files.
const HistoryTimeFormat = "2006-01-02 15:04:05"

// FormatHistoryTime renders t in the persisted-history layout.
func FormatHistoryTime(t time.Time) string {
	return t.Format(HistoryTimeFormat)
}
