// Package prompt assembles the token-budgeted message list for one LLM call.
//
// The final list holds, in order: the system prompt, an optional web-search
// block, an optional knowledge block, the dialogue history in chronological
// order, and the new user message. The budgeter fills in priority order
// (system, user, web-search, knowledge, history) and drops history oldest
// first until the remainder fits.
package prompt

import (
	"log/slog"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// DefaultMaxTokens is the context cap used when none is configured.
const DefaultMaxTokens = 4000

// Input carries everything the builder considers for one turn. SystemPrompt
// and UserMessage are mandatory; the rest is dropped first when the budget
// runs out.
type Input struct {
	SystemPrompt string
	UserMessage  string

	// WebSearchBlock is the rendered search-result text, or "".
	WebSearchBlock string

	// KnowledgeBlock is the rendered memory and world-book text, or "".
	KnowledgeBlock string

	// History holds prior turns, oldest first.
	History []types.Message
}

// Builder produces budgeted message lists.
type Builder struct {
	maxTokens int
	estimate  func(text string) int
}

// Option is a functional option for NewBuilder.
type Option func(*Builder)

// WithMaxTokens sets the context cap. Non-positive values keep the default.
func WithMaxTokens(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// WithEstimator replaces the default length/4 token estimator.
func WithEstimator(fn func(text string) int) Option {
	return func(b *Builder) {
		if fn != nil {
			b.estimate = fn
		}
	}
}

// NewBuilder creates a Builder with the default cap and estimator.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		maxTokens: DefaultMaxTokens,
		estimate:  func(text string) int { return len(text) / 4 },
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build assembles the message list for in. The system prompt and user message
// are never truncated; when they alone exceed the cap everything optional is
// dropped, the pair is submitted as-is, and a warning is logged.
func (b *Builder) Build(in Input) []types.Message {
	systemCost := b.estimate(in.SystemPrompt)
	userCost := b.estimate(in.UserMessage)
	remaining := b.maxTokens - systemCost - userCost

	if remaining < 0 {
		slog.Warn("system prompt and user message alone exceed the context budget",
			"system_tokens", systemCost, "user_tokens", userCost, "max_tokens", b.maxTokens)
		return assemble(in.SystemPrompt, "", "", nil, in.UserMessage)
	}

	webSearch := in.WebSearchBlock
	if webSearch != "" {
		cost := b.estimate(webSearch)
		if cost > remaining {
			slog.Debug("web-search block dropped from context", "tokens", cost, "remaining", remaining)
			webSearch = ""
		} else {
			remaining -= cost
		}
	}

	knowledge := in.KnowledgeBlock
	if knowledge != "" {
		cost := b.estimate(knowledge)
		if cost > remaining {
			slog.Debug("knowledge block dropped from context", "tokens", cost, "remaining", remaining)
			knowledge = ""
		} else {
			remaining -= cost
		}
	}

	history := b.fitHistory(in.History, remaining)
	return assemble(in.SystemPrompt, webSearch, knowledge, history, in.UserMessage)
}

// fitHistory drops the oldest entries until the rest fits in budget,
// preserving chronological order of what remains.
func (b *Builder) fitHistory(history []types.Message, budget int) []types.Message {
	total := 0
	costs := make([]int, len(history))
	for i, m := range history {
		costs[i] = b.estimate(m.Content)
		total += costs[i]
	}
	start := 0
	for start < len(history) && total > budget {
		total -= costs[start]
		start++
	}
	if start > 0 {
		slog.Debug("history truncated to fit context budget",
			"dropped", start, "kept", len(history)-start)
	}
	return history[start:]
}

func assemble(system, webSearch, knowledge string, history []types.Message, user string) []types.Message {
	out := make([]types.Message, 0, len(history)+4)
	out = append(out, types.Message{Role: types.RoleSystem, Content: system})
	if webSearch != "" {
		out = append(out, types.Message{Role: types.RoleSystem, Content: webSearch})
	}
	if knowledge != "" {
		out = append(out, types.Message{Role: types.RoleSystem, Content: knowledge})
	}
	out = append(out, history...)
	out = append(out, types.Message{Role: types.RoleUser, Content: user})
	return out
}
