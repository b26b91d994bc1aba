// Package memory persists per-session long-lived facts extracted from
// completed turns. Entries live in one JSON file per session; retrieval
// returns a ranked subset and a purge policy keeps the files bounded.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindFact         Kind = "fact"
	KindPreference   Kind = "preference"
	KindRelationship Kind = "relationship"
	KindEvent        Kind = "event"
)

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindFact, KindPreference, KindRelationship, KindEvent:
		return true
	}
	return false
}

// Entry is one remembered item.
type Entry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"kind"`
	Importance     int       `json:"importance"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	AccessCount    int       `json:"accessCount"`
	Keywords       []string  `json:"keywords,omitempty"`
}

const (
	// maxEntriesPerSession triggers the purge policy.
	maxEntriesPerSession = 200

	// purgeKeep is the number of entries retained after a purge.
	purgeKeep = 150
)

// Store reads and writes session memory files. Writers for one session are
// serialized by a per-session lock; the context builder reads concurrently.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir %q: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

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
	return filepath.Join(s.dir, sessionID+"_memories.json")
}

func (s *Store) load(sessionID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: read %q: %w", sessionID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("memory: decode %q: %w", sessionID, err)
	}
	return entries, nil
}

func (s *Store) save(sessionID string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode %q: %w", sessionID, err)
	}
	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write %q: %w", sessionID, err)
	}
	if err := os.Rename(tmp, s.path(sessionID)); err != nil {
		return fmt.Errorf("memory: rename %q: %w", sessionID, err)
	}
	return nil
}

// Add stores one entry, assigning an id and timestamps, and runs the purge
// policy if the session file has grown past its bound.
func (s *Store) Add(sessionID string, e Entry) (Entry, error) {
	if e.Content == "" {
		return Entry{}, fmt.Errorf("memory: content must not be empty")
	}
	if !e.Kind.IsValid() {
		e.Kind = KindFact
	}
	if e.Importance < 1 {
		e.Importance = 1
	}
	if e.Importance > 10 {
		e.Importance = 10
	}
	now := time.Now()
	e.ID = uuid.NewString()
	e.SessionID = sessionID
	e.CreatedAt = now
	e.LastAccessedAt = now

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.load(sessionID)
	if err != nil {
		return Entry{}, err
	}
	entries = append(entries, e)
	if len(entries) > maxEntriesPerSession {
		entries = purge(entries, purgeKeep)
	}
	if err := s.save(sessionID, entries); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// All returns every entry for the session, newest first.
func (s *Store) All(sessionID string) ([]Entry, error) {
	entries, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

// Retrieve returns up to limit entries ranked against query and bumps their
// access stats. Ranking weighs keyword/content overlap with the query first,
// then importance, then recency.
func (s *Store) Retrieve(sessionID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.load(sessionID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}

	terms := queryTerms(query)
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(entries))
	for i, e := range entries {
		ranked = append(ranked, scored{idx: i, score: scoreEntry(e, terms)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if limit > len(ranked) {
		limit = len(ranked)
	}
	now := time.Now()
	out := make([]Entry, 0, limit)
	for _, r := range ranked[:limit] {
		entries[r.idx].LastAccessedAt = now
		entries[r.idx].AccessCount++
		out = append(out, entries[r.idx])
	}

	// Access-stat updates are best-effort; retrieval results matter more.
	_ = s.save(sessionID, entries)
	return out, nil
}

// Delete removes the whole memory file for a session.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("memory: delete %q: %w", sessionID, err)
	}
	return nil
}

// scoreEntry ranks e against the query terms.
func scoreEntry(e Entry, terms []string) float64 {
	var overlap float64
	content := strings.ToLower(e.Content)
	for _, t := range terms {
		if strings.Contains(content, t) {
			overlap += 2
			continue
		}
		for _, kw := range e.Keywords {
			if strings.Contains(strings.ToLower(kw), t) || strings.Contains(t, strings.ToLower(kw)) {
				overlap++
				break
			}
		}
	}
	age := time.Since(e.CreatedAt).Hours()
	recency := 1.0 / (1.0 + age/24)
	return overlap*10 + float64(e.Importance) + recency
}

// queryTerms lowercases and splits the query into match terms. For CJK text
// without spaces the whole query is one term; substring matching still works.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 && query != "" {
		return []string{strings.ToLower(query)}
	}
	return fields
}

// purge keeps the top entries by importance, breaking ties by last access
// time (LRU goes first).
func purge(entries []Entry, keep int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].LastAccessedAt.After(entries[j].LastAccessedAt)
	})
	if keep > len(entries) {
		keep = len(entries)
	}
	kept := append([]Entry(nil), entries[:keep]...)
	// Restore chronological order for readability of the file.
	sort.Slice(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
	return kept
}
