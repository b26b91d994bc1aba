// Package prefs persists the modular user-preferences record as a JSON file.
// A session loads a snapshot at turn start; updates rewrite the whole file.
package prefs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Mode names an output strategy.
type Mode string

const (
	ModeTextOnly      Mode = "text_only"
	ModeCharStreamTTS Mode = "char_stream_tts"
	ModeSentenceSync  Mode = "sentence_sync"
	ModeMixed         Mode = "mixed"
)

// IsValid reports whether m is a recognised strategy mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeTextOnly, ModeCharStreamTTS, ModeSentenceSync, ModeMixed:
		return true
	}
	return false
}

// UserPreferences is the modular ("v2") preference record.
type UserPreferences struct {
	Basic         BasicPrefs         `json:"basic"`
	UI            UIPrefs            `json:"ui"`
	ASR           ASRPrefs           `json:"asr"`
	TTS           TTSPrefs           `json:"tts"`
	LLM           LLMPrefs           `json:"llm"`
	WebSearch     WebSearchPrefs     `json:"webSearch"`
	Streaming     StreamingPrefs     `json:"streaming"`
	OutputChannel OutputChannelPrefs `json:"outputChannel"`
}

// BasicPrefs holds identity-level settings.
type BasicPrefs struct {
	Nickname       string `json:"nickname,omitempty"`
	Language       string `json:"language,omitempty"`
	DefaultPersona string `json:"defaultPersona,omitempty"`
}

// UIPrefs holds client rendering hints the server passes through.
type UIPrefs struct {
	Theme        string `json:"theme,omitempty"`
	FontSize     int    `json:"fontSize,omitempty"`
	ShowThinking bool   `json:"showThinking"`
}

// ASRPrefs holds speech-recognition settings.
type ASRPrefs struct {
	Enabled  bool   `json:"enabled"`
	Language string `json:"language,omitempty"`
}

// TTSPrefs holds synthesis defaults.
type TTSPrefs struct {
	PreferredSpeaker string  `json:"preferredSpeaker,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
}

// LLMPrefs overrides the model parameters per user.
type LLMPrefs struct {
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

// WebSearchPrefs toggles the search collaborator per user.
type WebSearchPrefs struct {
	Enabled bool `json:"enabled"`
}

// StreamingPrefs paces outbound text chunks.
type StreamingPrefs struct {
	ChunkSize int `json:"chunkSize,omitempty"`
	DelayMs   int `json:"delayMs,omitempty"`
}

// OutputChannelPrefs configures the two output surfaces.
type OutputChannelPrefs struct {
	ChatWindow ChatWindowPrefs `json:"chatWindow"`
	Live2D     Live2DPrefs     `json:"live2d"`
}

// ChatWindowPrefs configures the incremental transcript channel.
type ChatWindowPrefs struct {
	Enabled   bool   `json:"enabled"`
	Mode      Mode   `json:"mode,omitempty"`
	AutoTTS   bool   `json:"autoTTS"`
	SpeakerID string `json:"speakerId,omitempty"`
}

// Live2DPrefs configures the avatar bubble channel.
type Live2DPrefs struct {
	Enabled    bool    `json:"enabled"`
	Mode       Mode    `json:"mode,omitempty"`
	SpeakerID  string  `json:"speakerId,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	ShowBubble bool    `json:"showBubble"`

	// BubbleTimeoutMs bounds the wait for a playback acknowledgement.
	BubbleTimeoutMs int `json:"bubbleTimeout,omitempty"`
}

// Defaults returns the preference record used when nothing is stored.
func Defaults() UserPreferences {
	return UserPreferences{
		UI:        UIPrefs{ShowThinking: true},
		TTS:       TTSPrefs{Speed: 1.0},
		LLM:       LLMPrefs{Stream: true},
		Streaming: StreamingPrefs{ChunkSize: 0, DelayMs: 0},
		OutputChannel: OutputChannelPrefs{
			ChatWindow: ChatWindowPrefs{Enabled: true, Mode: ModeCharStreamTTS, AutoTTS: true},
			Live2D: Live2DPrefs{
				Enabled:         false,
				Mode:            ModeSentenceSync,
				Speed:           1.0,
				ShowBubble:      true,
				BubbleTimeoutMs: 5000,
			},
		},
	}
}

// Store reads and writes the preference file. All methods are safe for
// concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store over the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored preferences, or Defaults if no file exists. A file
// that fails to decode is reported loudly and replaced by defaults; earlier
// flat-shape preference files are deliberately not migrated.
func (s *Store) Load() UserPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("prefs: unreadable file, using defaults", "path", s.path, "err", err)
		}
		return Defaults()
	}
	var p UserPreferences
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Error("prefs: undecodable file, using defaults (legacy flat shape is not migrated)",
			"path", s.path, "err", err)
		return Defaults()
	}
	return p
}

// Save rewrites the preference file with p.
func (s *Store) Save(p UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prefs: create dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}

// Dir hands out per-user preference stores, one JSON file per user under a
// shared directory. Stores are cached so concurrent requests for the same
// user share one file lock.
type Dir struct {
	dir string

	mu     sync.Mutex
	stores map[string]*Store
}

// NewDir returns a Dir over the given directory.
func NewDir(dir string) *Dir {
	return &Dir{
		dir:    dir,
		stores: make(map[string]*Store),
	}
}

// For returns the store for the given user, creating it on first use. The
// caller is responsible for validating the user name against path traversal.
func (d *Dir) For(user string) *Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stores[user]
	if !ok {
		s = NewStore(filepath.Join(d.dir, user+".json"))
		d.stores[user] = s
	}
	return s
}

// Reset restores the defaults on disk and returns them.
func (s *Store) Reset() (UserPreferences, error) {
	d := Defaults()
	if err := s.Save(d); err != nil {
		return UserPreferences{}, err
	}
	return d, nil
}
