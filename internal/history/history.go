// Package history persists per-session conversation transcripts as JSON
// files. One file per session, loaded fully on demand and appended by full
// rewrite. Thinking content is never persisted.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// Entry is one persisted transcript line.
type Entry struct {
	Type      string     `json:"type"`
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp"`
}

// NewEntry builds an Entry stamped with the persisted-history time layout.
func NewEntry(typ string, role types.Role, content string, at time.Time) Entry {
	return Entry{
		Type:      typ,
		Role:      role,
		Content:   content,
		Timestamp: types.FormatHistoryTime(at),
	}
}

// Store reads and writes session history files under a single directory.
// Writes to the same session are serialized by a per-store lock; the
// filesystem rename makes each rewrite atomic.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir %q: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// sessionLock returns the per-session write lock, creating it on first use.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_history.json")
}

// Load returns the full transcript for sessionID, oldest first. A missing
// file yields an empty transcript, not an error.
func (s *Store) Load(sessionID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: read %q: %w", sessionID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("history: decode %q: %w", sessionID, err)
	}
	return entries, nil
}

// Append adds entries to the session transcript via load, append, and full
// rewrite to a temp file followed by rename.
func (s *Store) Append(sessionID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.Load(sessionID)
	if err != nil {
		// A corrupt file should not block new writes; start fresh and keep
		// the old content aside for inspection.
		slog.Warn("history: unreadable file replaced", "session_id", sessionID, "err", err)
		_ = os.Rename(s.path(sessionID), s.path(sessionID)+".corrupt")
		existing = nil
	}
	existing = append(existing, entries...)

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode %q: %w", sessionID, err)
	}

	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: write %q: %w", sessionID, err)
	}
	if err := os.Rename(tmp, s.path(sessionID)); err != nil {
		return fmt.Errorf("history: rename %q: %w", sessionID, err)
	}
	return nil
}

// Delete removes the session transcript. Deleting a missing file is not an
// error.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("history: delete %q: %w", sessionID, err)
	}
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

// List returns the session ids that have a transcript on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("history: list dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, "_history.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, "_history.json"))
	}
	return ids, nil
}

// Messages converts a transcript into LLM conversation messages, skipping
// entries that carry no conversational content (system notices, errors).
func Messages(entries []Entry) []types.Message {
	var out []types.Message
	for _, e := range entries {
		if e.Type != "text" && e.Type != "audio" {
			continue
		}
		if e.Content == "" {
			continue
		}
		out = append(out, types.Message{Role: e.Role, Content: e.Content})
	}
	return out
}
