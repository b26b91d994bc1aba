package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// WorldBookEntry is one piece of long-term background knowledge, activated
// when the user's query touches its keywords.
type WorldBookEntry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Keywords []string `json:"keywords"`
	Content  string   `json:"content"`
	Priority int      `json:"priority,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

func (e WorldBookEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// WorldBook holds the knowledge entries loaded from a directory of JSON
// files. Each file holds either one entry or an array of entries. Lookups
// are read-mostly; Reload swaps the whole catalogue.
type WorldBook struct {
	dir string

	mu      sync.RWMutex
	entries []WorldBookEntry
}

// NewWorldBook loads entries from dir. A missing directory yields an empty
// book, not an error.
func NewWorldBook(dir string) (*WorldBook, error) {
	wb := &WorldBook{dir: dir}
	if err := wb.Reload(); err != nil {
		return nil, err
	}
	return wb, nil
}

// Reload re-reads every JSON file in the directory. Files that fail to
// decode are skipped.
func (wb *WorldBook) Reload() error {
	names, err := filepath.Glob(filepath.Join(wb.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("knowledge: glob world book dir: %w", err)
	}

	var entries []WorldBookEntry
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		// A file may hold a single entry or an array.
		var many []WorldBookEntry
		if err := json.Unmarshal(data, &many); err == nil {
			entries = append(entries, many...)
			continue
		}
		var one WorldBookEntry
		if err := json.Unmarshal(data, &one); err == nil && one.Content != "" {
			entries = append(entries, one)
		}
	}

	wb.mu.Lock()
	wb.entries = entries
	wb.mu.Unlock()
	return nil
}

// Len returns the number of loaded entries.
func (wb *WorldBook) Len() int {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return len(wb.entries)
}

// Lookup returns enabled entries whose keywords (or title) appear in the
// query, highest priority first, capped at limit.
func (wb *WorldBook) Lookup(query string, limit int) []WorldBookEntry {
	if limit <= 0 {
		limit = 3
	}
	lower := strings.ToLower(query)

	wb.mu.RLock()
	var matched []WorldBookEntry
	for _, e := range wb.entries {
		if !e.enabled() {
			continue
		}
		if matchesQuery(e, lower) {
			matched = append(matched, e)
		}
	}
	wb.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func matchesQuery(e WorldBookEntry, lowerQuery string) bool {
	for _, kw := range e.Keywords {
		if kw != "" && strings.Contains(lowerQuery, strings.ToLower(kw)) {
			return true
		}
	}
	return e.Title != "" && strings.Contains(lowerQuery, strings.ToLower(e.Title))
}
