// Package knowledge assembles the per-turn knowledge layer injected into the
// LLM prompt: the active persona's system prompt, ranked short-term memories
// for the session, and matching world-book entries.
//
// The three sources are fetched concurrently. Use [FormatBlock] to render the
// memory and world-book parts as the prompt block the context builder places
// between the system prompt and the dialogue history.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaiwa-ai/kaiwa/internal/memory"
	"github.com/kaiwa-ai/kaiwa/internal/persona"
)

// PersonaSource resolves persona records by display name.
type PersonaSource interface {
	GetByName(name string) (persona.Persona, error)
}

// MemorySource returns ranked memory entries for a session and query.
type MemorySource interface {
	Retrieve(sessionID, query string, limit int) ([]memory.Entry, error)
}

// Result is the assembled knowledge for one turn. All fields are optional;
// callers check for empty before using.
type Result struct {
	// SystemPrompt is the resolved persona or fallback prompt. Never empty
	// when Fetch succeeds.
	SystemPrompt string

	// PersonaID names the persona that supplied the prompt, or "" when a
	// configured prompt was used instead.
	PersonaID string

	// Memories are the ranked short-term entries for the query.
	Memories []memory.Entry

	// WorldBook holds the matching long-term knowledge entries.
	WorldBook []WorldBookEntry

	// FetchDuration records how long Fetch took.
	FetchDuration time.Duration
}

// Facade fetches all knowledge sources for a turn.
type Facade struct {
	personas  PersonaSource
	memories  MemorySource
	worldBook *WorldBook

	basePrompt     string
	fallbackPrompt string
	enablePersona  bool
	memoryLimit    int
}

// Option is a functional option for NewFacade.
type Option func(*Facade)

// WithPrompts sets the configured base and last-resort system prompts used
// when no persona applies.
func WithPrompts(base, fallback string) Option {
	return func(f *Facade) {
		f.basePrompt = base
		f.fallbackPrompt = fallback
	}
}

// WithPersonaEnabled toggles persona prompt injection. Defaults to true.
func WithPersonaEnabled(enabled bool) Option {
	return func(f *Facade) { f.enablePersona = enabled }
}

// WithMemoryLimit caps the number of memory entries fetched per turn.
// Defaults to 5.
func WithMemoryLimit(n int) Option {
	return func(f *Facade) { f.memoryLimit = n }
}

// NewFacade creates a Facade. personas, memories, and worldBook may each be
// nil; a nil source contributes nothing.
func NewFacade(personas PersonaSource, memories MemorySource, worldBook *WorldBook, opts ...Option) *Facade {
	f := &Facade{
		personas:       personas,
		memories:       memories,
		worldBook:      worldBook,
		fallbackPrompt: "你是一个乐于助人的AI助手。",
		enablePersona:  true,
		memoryLimit:    5,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch assembles the knowledge for one turn. The persona prompt, memory
// retrieval, and world-book lookup run in parallel. An unknown persona name
// is not an error; the configured prompts take over.
func (f *Facade) Fetch(ctx context.Context, sessionID, personaName, query string) (*Result, error) {
	start := time.Now()
	res := &Result{}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		prompt, id := f.resolvePrompt(personaName)
		res.SystemPrompt = prompt
		res.PersonaID = id
		return nil
	})

	eg.Go(func() error {
		if f.memories == nil {
			return nil
		}
		if err := egCtx.Err(); err != nil {
			return err
		}
		entries, err := f.memories.Retrieve(sessionID, query, f.memoryLimit)
		if err != nil {
			return fmt.Errorf("knowledge: retrieve memories for session %q: %w", sessionID, err)
		}
		res.Memories = entries
		return nil
	})

	eg.Go(func() error {
		if f.worldBook == nil {
			return nil
		}
		res.WorldBook = f.worldBook.Lookup(query, 3)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res.FetchDuration = time.Since(start)
	return res, nil
}

// resolvePrompt picks the system prompt: persona first (when enabled and
// found), then the configured base prompt, then the last-resort fallback.
func (f *Facade) resolvePrompt(personaName string) (prompt, personaID string) {
	if f.enablePersona && f.personas != nil && personaName != "" {
		p, err := f.personas.GetByName(personaName)
		switch {
		case err == nil && strings.TrimSpace(p.SystemPrompt) != "":
			return p.SystemPrompt, p.ID
		case err != nil && !errors.Is(err, persona.ErrNotFound):
			slog.Warn("persona lookup failed, using configured prompt", "persona", personaName, "err", err)
		case err != nil:
			slog.Debug("persona not found, using configured prompt", "persona", personaName)
		}
	}
	if strings.TrimSpace(f.basePrompt) != "" {
		return f.basePrompt, ""
	}
	return f.fallbackPrompt, ""
}

// FormatBlock renders the memory and world-book sections as one prompt
// block. Empty sections are omitted; when both are empty the result is "".
func FormatBlock(res *Result) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder

	if len(res.Memories) > 0 {
		sb.WriteString("【近期记忆】\n")
		for _, m := range res.Memories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	if len(res.WorldBook) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("【相关知识】\n")
		for _, e := range res.WorldBook {
			if e.Title != "" {
				fmt.Fprintf(&sb, "- %s：%s\n", e.Title, e.Content)
			} else {
				fmt.Fprintf(&sb, "- %s\n", e.Content)
			}
		}
	}
	return sb.String()
}
