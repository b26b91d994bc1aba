// Package persona loads and serves the persona catalogue. Personas are JSON
// files in one directory, loaded at startup and hot-reloadable by a polling
// watcher. A turn takes an immutable snapshot and is unaffected by a reload
// happening mid-stream.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Persona describes one selectable assistant identity.
type Persona struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	SystemPrompt string            `json:"systemPrompt"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// ErrNotFound is returned when a persona id or name is unknown.
var ErrNotFound = errors.New("persona: not found")

// Store holds the in-memory persona catalogue. Reads take a snapshot under a
// read lock; Reload rebuilds the whole catalogue and swaps it in.
type Store struct {
	dir string

	mu       sync.RWMutex
	byID     map[string]Persona
	byName   map[string]Persona
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore loads all personas from dir. An empty or missing directory yields
// an empty catalogue, not an error: the configured base prompt then applies.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:  dir,
		done: make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the catalogue from disk. Invalid files are skipped with a
// warning; a file error on one persona never hides the others.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.swap(nil)
			return nil
		}
		return fmt.Errorf("persona: read dir %q: %w", s.dir, err)
	}

	var personas []Persona
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			slog.Warn("persona: unreadable file skipped", "file", name, "err", err)
			continue
		}
		var p Persona
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Warn("persona: invalid file skipped", "file", name, "err", err)
			continue
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(name, ".json")
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		personas = append(personas, p)
	}

	s.swap(personas)
	slog.Info("personas loaded", "dir", s.dir, "count", len(personas))
	return nil
}

func (s *Store) swap(personas []Persona) {
	byID := make(map[string]Persona, len(personas))
	byName := make(map[string]Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
		byName[p.Name] = p
	}
	s.mu.Lock()
	s.byID = byID
	s.byName = byName
	s.mu.Unlock()
}

// Get returns the persona with the given id.
func (s *Store) Get(id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return p, nil
}

// GetByName returns the persona with the given display name, falling back to
// an id match.
func (s *Store) GetByName(name string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byName[name]; ok {
		return p, nil
	}
	if p, ok := s.byID[name]; ok {
		return p, nil
	}
	return Persona{}, fmt.Errorf("%w: name %q", ErrNotFound, name)
}

// List returns all personas sorted by id.
func (s *Store) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes p to disk and adds it to the live catalogue.
func (s *Store) Save(p Persona) error {
	if p.ID == "" {
		return errors.New("persona: id must not be empty")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("persona: create dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode %q: %w", p.ID, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, p.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("persona: write %q: %w", p.ID, err)
	}

	s.mu.Lock()
	s.byID[p.ID] = p
	s.byName[p.Name] = p
	s.mu.Unlock()
	return nil
}

// Delete removes the persona file and drops it from the catalogue.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	p, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.byName, p.Name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persona: delete %q: %w", id, err)
	}
	return nil
}

// StartWatcher begins polling the persona directory and reloading the
// catalogue when its contents change. It uses polling (not fsnotify) to keep
// dependencies minimal. Call Stop to end the loop.
func (s *Store) StartWatcher(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	last := s.dirSignature()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				sig := s.dirSignature()
				if sig == last {
					continue
				}
				last = sig
				if err := s.Reload(); err != nil {
					slog.Warn("persona watcher: reload failed", "err", err)
				}
			}
		}
	}()
}

// Stop ends the watcher loop.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// dirSignature summarises the directory contents (names, sizes, mtimes) so
// the watcher can cheaply detect changes without hashing file contents.
func (s *Store) dirSignature() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "err:" + err.Error()
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", e.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}
