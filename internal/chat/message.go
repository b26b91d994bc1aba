// Package chat defines the message envelope shared between the orchestrator
// and the WebSocket transport, plus the per-connection session state and its
// manager.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// MessageType classifies a ChatMessage.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeAudio    MessageType = "audio"
	TypeSystem   MessageType = "system"
	TypeError    MessageType = "error"
	TypeThinking MessageType = "thinking"
)

// Message is the single envelope used both internally and on the wire. It is
// a flat record with optional groups: streaming fields are meaningful only
// when Streaming is set, audio fields only for TypeAudio.
type Message struct {
	// MessageID is a unique identifier, generated at construction.
	MessageID string `json:"messageId"`

	// SessionID identifies the owning chat session.
	SessionID string `json:"sessionId"`

	// Role is the conversational author: system, user, or assistant.
	Role types.Role `json:"role"`

	// Type classifies the payload.
	Type MessageType `json:"type"`

	// Timestamp is the creation time.
	Timestamp time.Time `json:"timestamp"`

	// Content is the text payload.
	Content string `json:"content,omitempty"`

	// ThinkingContent carries reasoning text for TypeThinking messages.
	ThinkingContent string `json:"thinkingContent,omitempty"`

	// ChannelType is the output surface this message belongs to.
	ChannelType types.Channel `json:"channelType,omitempty"`

	// Streaming marks a message that is part of an in-flight turn.
	Streaming bool `json:"streaming,omitempty"`

	// StreamComplete marks the terminal message of a turn on its channel.
	// Exactly one per turn per channel, and always last.
	StreamComplete bool `json:"streamComplete,omitempty"`

	// SentenceID ties audio to text: "<channel>:<sessionId>:<order>".
	SentenceID string `json:"sentenceId,omitempty"`

	// SentenceOrder is the zero-based sentence position within a turn.
	SentenceOrder int `json:"sentenceOrder"`

	// SentenceComplete marks that this message closes its sentence.
	SentenceComplete bool `json:"sentenceComplete,omitempty"`

	// Audio holds raw audio bytes; encoding/json base64-encodes on the wire.
	Audio []byte `json:"audio,omitempty"`

	// AudioFormat names the audio container, e.g. "wav".
	AudioFormat string `json:"audioFormat,omitempty"`

	// Metadata carries free-form attributes (subType, errorCode, stage, details).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// newMessage fills the envelope fields common to all constructors.
func newMessage(sessionID string, role types.Role, typ MessageType) Message {
	return Message{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Type:      typ,
		Timestamp: time.Now(),
	}
}

// NewText builds a streaming text message for one LLM chunk.
func NewText(sessionID string, ch types.Channel, content string) Message {
	m := newMessage(sessionID, types.RoleAssistant, TypeText)
	m.ChannelType = ch
	m.Content = content
	m.Streaming = true
	return m
}

// NewThinking builds a thinking message with the given pipeline stage tag.
func NewThinking(sessionID string, ch types.Channel, content, stage string) Message {
	m := newMessage(sessionID, types.RoleAssistant, TypeThinking)
	m.ChannelType = ch
	m.ThinkingContent = content
	m.Streaming = true
	m.Metadata = map[string]string{"stage": stage}
	return m
}

// NewAudio builds an audio message for one synthesised sentence.
func NewAudio(sessionID string, ch types.Channel, s types.Sentence, audio []byte, format string) Message {
	m := newMessage(sessionID, types.RoleAssistant, TypeAudio)
	m.ChannelType = ch
	m.Audio = audio
	m.AudioFormat = format
	m.SentenceID = s.ID(ch)
	m.SentenceOrder = s.Order
	m.SentenceComplete = true
	m.Streaming = true
	return m
}

// NewStreamEnd builds the terminal message of a turn on ch.
func NewStreamEnd(sessionID string, ch types.Channel) Message {
	m := newMessage(sessionID, types.RoleAssistant, TypeText)
	m.ChannelType = ch
	m.Streaming = false
	m.StreamComplete = true
	return m
}

// NewSystem builds a system message with the given subType.
func NewSystem(sessionID, subType, content string) Message {
	m := newMessage(sessionID, types.RoleSystem, TypeSystem)
	m.Content = content
	m.Metadata = map[string]string{"subType": subType}
	return m
}

// NewError builds an error message with a classified code.
func NewError(sessionID, errorCode, details string) Message {
	m := newMessage(sessionID, types.RoleSystem, TypeError)
	m.Content = details
	m.Metadata = map[string]string{"errorCode": errorCode, "details": details}
	return m
}

// NewTTSError builds the per-sentence synthesis failure notice. It is local
// to one sentence and does not terminate the turn.
func NewTTSError(sessionID string, ch types.Channel, s types.Sentence, details string) Message {
	m := newMessage(sessionID, types.RoleSystem, TypeError)
	m.ChannelType = ch
	m.SentenceID = s.ID(ch)
	m.SentenceOrder = s.Order
	m.Metadata = map[string]string{"errorCode": "tts_error", "details": details}
	return m
}

// BothReady reports whether m carries both displayable text and playable
// audio, i.e. a fully-paired sentence message.
func BothReady(m Message) bool {
	return m.Content != "" && len(m.Audio) > 0
}
