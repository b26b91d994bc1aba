package prompt

import (
	"strings"
	"testing"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// oneTokenPerRune makes budgets easy to reason about in tests.
func oneTokenPerRune(text string) int { return len([]rune(text)) }

func roles(msgs []types.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = string(m.Role)
	}
	return strings.Join(parts, ",")
}

func TestBuildFullAssemblyOrder(t *testing.T) {
	b := NewBuilder(WithMaxTokens(1000), WithEstimator(oneTokenPerRune))
	got := b.Build(Input{
		SystemPrompt:   "sys",
		WebSearchBlock: "search results",
		KnowledgeBlock: "knowledge",
		History: []types.Message{
			{Role: types.RoleUser, Content: "q1"},
			{Role: types.RoleAssistant, Content: "a1"},
		},
		UserMessage: "q2",
	})

	if want := "system,system,system,user,assistant,user"; roles(got) != want {
		t.Fatalf("roles = %s, want %s", roles(got), want)
	}
	if got[0].Content != "sys" || got[1].Content != "search results" || got[2].Content != "knowledge" {
		t.Errorf("leading blocks out of order: %+v", got[:3])
	}
	if got[len(got)-1].Content != "q2" {
		t.Errorf("last message = %q, want the new user message", got[len(got)-1].Content)
	}
}

func TestBuildDropsHistoryOldestFirst(t *testing.T) {
	// system(3) + user(2) leaves 5; each history entry costs 4.
	b := NewBuilder(WithMaxTokens(10), WithEstimator(oneTokenPerRune))
	got := b.Build(Input{
		SystemPrompt: "sys",
		History: []types.Message{
			{Role: types.RoleUser, Content: "old1"},
			{Role: types.RoleAssistant, Content: "old2"},
			{Role: types.RoleUser, Content: "new1"},
		},
		UserMessage: "hi",
	})

	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3 (system, newest history, user)", len(got))
	}
	if got[1].Content != "new1" {
		t.Errorf("kept history = %q, want the newest entry", got[1].Content)
	}
}

func TestBuildDropsOptionalBlocksBeforeHistory(t *testing.T) {
	// 20-token budget: system(3) + user(2) leaves 15. The search block costs
	// 12, knowledge 10: search fits, knowledge no longer does.
	b := NewBuilder(WithMaxTokens(20), WithEstimator(oneTokenPerRune))
	got := b.Build(Input{
		SystemPrompt:   "sys",
		WebSearchBlock: strings.Repeat("s", 12),
		KnowledgeBlock: strings.Repeat("k", 10),
		UserMessage:    "hi",
	})

	if want := "system,system,user"; roles(got) != want {
		t.Fatalf("roles = %s, want %s", roles(got), want)
	}
	if !strings.HasPrefix(got[1].Content, "s") {
		t.Errorf("surviving block = %q, want the search block", got[1].Content)
	}
}

func TestBuildOverBudgetSystemAndUserSurvive(t *testing.T) {
	b := NewBuilder(WithMaxTokens(4), WithEstimator(oneTokenPerRune))
	got := b.Build(Input{
		SystemPrompt:   "long system prompt",
		WebSearchBlock: "search",
		KnowledgeBlock: "knowledge",
		History:        []types.Message{{Role: types.RoleUser, Content: "old"}},
		UserMessage:    "long user question",
	})

	if len(got) != 2 {
		t.Fatalf("got %d messages, want exactly system and user", len(got))
	}
	if got[0].Content != "long system prompt" || got[1].Content != "long user question" {
		t.Errorf("messages truncated: %+v", got)
	}
}

func TestBuildDefaultEstimator(t *testing.T) {
	b := NewBuilder()
	got := b.Build(Input{SystemPrompt: "you are helpful", UserMessage: "hello"})
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
}
