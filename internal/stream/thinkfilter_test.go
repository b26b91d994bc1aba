package stream

import (
	"strings"
	"testing"
)

// collect feeds chunks through a fresh filter and returns the concatenated
// dialogue and thinking text after a final Flush.
func collect(t *testing.T, chunks []string) (dialogue, thinking string) {
	t.Helper()
	f := NewThinkFilter()
	var d, th strings.Builder
	apply := func(segs []Segment) {
		for _, s := range segs {
			switch s.Mode {
			case ModeDialogue:
				d.WriteString(s.Text)
			case ModeThinking:
				th.WriteString(s.Text)
			}
		}
	}
	for _, c := range chunks {
		apply(f.Feed(c))
	}
	apply(f.Flush())
	return d.String(), th.String()
}

func TestThinkFilterFeed(t *testing.T) {
	tests := []struct {
		name         string
		chunks       []string
		wantDialogue string
		wantThinking string
	}{
		{
			name:         "no tags",
			chunks:       []string{"hello ", "world"},
			wantDialogue: "hello world",
		},
		{
			name:         "tag within one chunk",
			chunks:       []string{"a<think>b</think>c"},
			wantDialogue: "ac",
			wantThinking: "b",
		},
		{
			name:         "tag split across chunks",
			chunks:       []string{"hi <thi", "nk>secret</think> there.\n"},
			wantDialogue: "hi  there.\n",
			wantThinking: "secret",
		},
		{
			name:         "close tag split across chunks",
			chunks:       []string{"<think>deep</th", "ink>done"},
			wantDialogue: "done",
			wantThinking: "deep",
		},
		{
			name:         "tag split one byte at a time",
			chunks:       []string{"x<", "t", "h", "i", "n", "k", ">", "y", "<", "/think>z"},
			wantDialogue: "xz",
			wantThinking: "y",
		},
		{
			name:         "nested open tag is flat",
			chunks:       []string{"<think>a<think>b</think>c"},
			wantDialogue: "c",
			wantThinking: "ab",
		},
		{
			name:         "stray close tag stays in dialogue",
			chunks:       []string{"a</think>b"},
			wantDialogue: "ab",
		},
		{
			name:         "unterminated tag prefix flushed as text",
			chunks:       []string{"trailing <thi"},
			wantDialogue: "trailing <thi",
		},
		{
			name:         "angle bracket not a tag",
			chunks:       []string{"1 < 2 ", "and 3 > 2"},
			wantDialogue: "1 < 2 and 3 > 2",
		},
		{
			name:         "multiple think blocks",
			chunks:       []string{"a<think>1</think>b<think>2</think>c"},
			wantDialogue: "abc",
			wantThinking: "12",
		},
		{
			name:         "thinking spans many chunks",
			chunks:       []string{"<think>", "part one ", "part two", "</think>", "visible"},
			wantDialogue: "visible",
			wantThinking: "part one part two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialogue, thinking := collect(t, tt.chunks)
			if dialogue != tt.wantDialogue {
				t.Errorf("dialogue = %q, want %q", dialogue, tt.wantDialogue)
			}
			if thinking != tt.wantThinking {
				t.Errorf("thinking = %q, want %q", thinking, tt.wantThinking)
			}
		})
	}
}

func TestThinkFilterCarryBounded(t *testing.T) {
	f := NewThinkFilter()
	// Feed a long chunk that ends in a tag prefix; the carry must never exceed
	// maxCarry bytes.
	f.Feed(strings.Repeat("x", 1024) + "</think")
	if len(f.carry) > maxCarry {
		t.Fatalf("carry length = %d, want <= %d", len(f.carry), maxCarry)
	}
}

func TestThinkFilterModeCoalescing(t *testing.T) {
	f := NewThinkFilter()
	segs := f.Feed("a</think>b")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 coalesced dialogue segment: %+v", len(segs), segs)
	}
	if segs[0] != (Segment{Text: "ab", Mode: ModeDialogue}) {
		t.Errorf("segment = %+v", segs[0])
	}
}

func TestThinkFilterThinkingState(t *testing.T) {
	f := NewThinkFilter()
	f.Feed("a<think>b")
	if !f.Thinking() {
		t.Error("Thinking() = false inside think block")
	}
	f.Feed("</think>")
	if f.Thinking() {
		t.Error("Thinking() = true after close tag")
	}
}
