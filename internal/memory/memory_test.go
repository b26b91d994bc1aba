package memory

import (
	"testing"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	llmmock "github.com/kaiwa-ai/kaiwa/pkg/provider/llm/mock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreAddAssignsDefaults(t *testing.T) {
	s := newTestStore(t)
	e, err := s.Add("s1", Entry{Content: "用户喜欢猫", Kind: "bogus", Importance: 99})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.ID == "" {
		t.Error("id not assigned")
	}
	if e.Kind != KindFact {
		t.Errorf("kind = %q, want fact fallback", e.Kind)
	}
	if e.Importance != 10 {
		t.Errorf("importance = %d, want clamped to 10", e.Importance)
	}
	if e.CreatedAt.IsZero() || e.LastAccessedAt.IsZero() {
		t.Error("timestamps not assigned")
	}
}

func TestStoreAddRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add("s1", Entry{}); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestStoreRetrieveRanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	mustAdd := func(content string, importance int, keywords ...string) {
		t.Helper()
		if _, err := s.Add("s1", Entry{Content: content, Kind: KindFact, Importance: importance, Keywords: keywords}); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd("用户养了一只猫叫咪咪", 5, "猫", "宠物")
	mustAdd("用户在北京工作", 5, "北京", "工作")
	mustAdd("用户不喜欢吃辣", 3, "饮食")

	got, err := s.Retrieve("s1", "我的猫怎么样", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Content != "用户养了一只猫叫咪咪" {
		t.Errorf("top entry = %q, want the cat fact", got[0].Content)
	}
	if got[0].AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got[0].AccessCount)
	}
}

func TestStoreRetrieveEmptySession(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Retrieve("ghost", "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("Retrieve = %v, want nil", got)
	}
}

func TestPurgeKeepsImportantAndRecent(t *testing.T) {
	now := time.Now()
	var entries []Entry
	for i := 0; i < 10; i++ {
		imp := 1
		if i < 3 {
			imp = 9
		}
		entries = append(entries, Entry{
			Content:        "e",
			Importance:     imp,
			CreatedAt:      now.Add(time.Duration(i) * time.Minute),
			LastAccessedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}
	kept := purge(entries, 5)
	if len(kept) != 5 {
		t.Fatalf("kept %d, want 5", len(kept))
	}
	high := 0
	for _, e := range kept {
		if e.Importance == 9 {
			high++
		}
	}
	if high != 3 {
		t.Errorf("high-importance kept = %d, want all 3", high)
	}
}

func TestExtractorParsesAndStores(t *testing.T) {
	s := newTestStore(t)
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `好的，提取结果如下：
[{"content":"用户的猫叫咪咪","kind":"fact","importance":6,"keywords":["猫"]},
 {"content":"","kind":"fact","importance":2}]`,
		},
	}
	ex := NewExtractor(provider, s)
	ex.ExtractAsync("s1", "我的猫叫咪咪", "咪咪真可爱！")
	ex.Wait()

	all, err := s.All("s1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("stored %d entries, want 1 (empty content skipped)", len(all))
	}
	if all[0].Content != "用户的猫叫咪咪" || all[0].Importance != 6 {
		t.Errorf("entry = %+v", all[0])
	}
}

func TestParseEntriesGarbage(t *testing.T) {
	if got := parseEntries("no json here"); got != nil {
		t.Errorf("parseEntries = %v, want nil", got)
	}
	if got := parseEntries("[{broken"); got != nil {
		t.Errorf("parseEntries = %v, want nil", got)
	}
}
