package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kaiwa-ai/kaiwa/internal/memory"
	"github.com/kaiwa-ai/kaiwa/internal/persona"
)

type fakePersonas struct {
	byName map[string]persona.Persona
	err    error
}

func (f *fakePersonas) GetByName(name string) (persona.Persona, error) {
	if f.err != nil {
		return persona.Persona{}, f.err
	}
	p, ok := f.byName[name]
	if !ok {
		return persona.Persona{}, fmt.Errorf("%w: name %q", persona.ErrNotFound, name)
	}
	return p, nil
}

type fakeMemories struct {
	entries []memory.Entry
	err     error

	gotSession string
	gotQuery   string
}

func (f *fakeMemories) Retrieve(sessionID, query string, limit int) ([]memory.Entry, error) {
	f.gotSession, f.gotQuery = sessionID, query
	return f.entries, f.err
}

func writeWorldBook(t *testing.T, entries string) *WorldBook {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.json"), []byte(entries), 0o644); err != nil {
		t.Fatal(err)
	}
	wb, err := NewWorldBook(dir)
	if err != nil {
		t.Fatalf("NewWorldBook: %v", err)
	}
	return wb
}

func TestFetchCombinesAllSources(t *testing.T) {
	personas := &fakePersonas{byName: map[string]persona.Persona{
		"派蒙": {ID: "paimon", Name: "派蒙", SystemPrompt: "你是派蒙。"},
	}}
	memories := &fakeMemories{entries: []memory.Entry{{Content: "用户养了一只猫"}}}
	wb := writeWorldBook(t, `[{"id":"w1","title":"提瓦特","keywords":["提瓦特"],"content":"七种元素交汇的世界"}]`)

	f := NewFacade(personas, memories, wb, WithPrompts("base prompt", "fallback"))
	res, err := f.Fetch(context.Background(), "s1", "派蒙", "提瓦特是什么地方")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.SystemPrompt != "你是派蒙。" || res.PersonaID != "paimon" {
		t.Errorf("persona prompt = %q id = %q", res.SystemPrompt, res.PersonaID)
	}
	if len(res.Memories) != 1 || res.Memories[0].Content != "用户养了一只猫" {
		t.Errorf("memories = %+v", res.Memories)
	}
	if len(res.WorldBook) != 1 || res.WorldBook[0].ID != "w1" {
		t.Errorf("world book = %+v", res.WorldBook)
	}
	if memories.gotSession != "s1" || memories.gotQuery != "提瓦特是什么地方" {
		t.Errorf("memory query routing: session %q query %q", memories.gotSession, memories.gotQuery)
	}
}

func TestFetchPromptFallbackChain(t *testing.T) {
	tests := []struct {
		name        string
		personaName string
		base        string
		enabled     bool
		want        string
	}{
		{"unknown persona uses base", "nobody", "base prompt", true, "base prompt"},
		{"persona disabled uses base", "派蒙", "base prompt", false, "base prompt"},
		{"empty base uses fallback", "nobody", "", true, "last resort"},
	}
	personas := &fakePersonas{byName: map[string]persona.Persona{
		"派蒙": {ID: "paimon", SystemPrompt: "你是派蒙。"},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFacade(personas, nil, nil,
				WithPrompts(tt.base, "last resort"),
				WithPersonaEnabled(tt.enabled))
			res, err := f.Fetch(context.Background(), "s1", tt.personaName, "hi")
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if res.SystemPrompt != tt.want {
				t.Errorf("prompt = %q, want %q", res.SystemPrompt, tt.want)
			}
			if res.PersonaID != "" {
				t.Errorf("persona id = %q, want empty", res.PersonaID)
			}
		})
	}
}

func TestFetchMemoryErrorAborts(t *testing.T) {
	memories := &fakeMemories{err: errors.New("disk gone")}
	f := NewFacade(nil, memories, nil)
	if _, err := f.Fetch(context.Background(), "s1", "", "hi"); err == nil {
		t.Error("expected error from memory source")
	}
}

func TestWorldBookLookup(t *testing.T) {
	wb := writeWorldBook(t, `[
		{"id":"a","title":"魔法","keywords":["魔法","咒语"],"content":"A","priority":1},
		{"id":"b","title":"炼金","keywords":["炼金"],"content":"B","priority":5},
		{"id":"c","title":"禁术","keywords":["魔法"],"content":"C","enabled":false}
	]`)
	if wb.Len() != 3 {
		t.Fatalf("loaded %d entries, want 3", wb.Len())
	}

	got := wb.Lookup("给我讲讲魔法和炼金", 5)
	if len(got) != 2 {
		t.Fatalf("matched %d entries, want 2 (disabled entry excluded)", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("first match = %q, want higher-priority b", got[0].ID)
	}

	if got := wb.Lookup("今天天气不错", 5); len(got) != 0 {
		t.Errorf("unrelated query matched %d entries", len(got))
	}
}

func TestWorldBookMissingDir(t *testing.T) {
	wb, err := NewWorldBook(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("NewWorldBook: %v", err)
	}
	if wb.Len() != 0 {
		t.Errorf("entries = %d, want 0", wb.Len())
	}
}

func TestFormatBlock(t *testing.T) {
	if got := FormatBlock(&Result{}); got != "" {
		t.Errorf("empty result formatted as %q", got)
	}
	got := FormatBlock(&Result{
		Memories:  []memory.Entry{{Content: "用户喜欢猫"}},
		WorldBook: []WorldBookEntry{{Title: "提瓦特", Content: "七元素世界"}},
	})
	if !strings.Contains(got, "【近期记忆】\n- 用户喜欢猫") {
		t.Errorf("memory section missing:\n%s", got)
	}
	if !strings.Contains(got, "【相关知识】\n- 提瓦特：七元素世界") {
		t.Errorf("world book section missing:\n%s", got)
	}
}
