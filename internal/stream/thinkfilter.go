// Package stream contains the per-turn token stream transformations: the
// think-tag filter that splits LLM output into dialogue and thinking tracks,
// and the sentence buffer that assembles dialogue text into complete sentences
// for synthesis.
package stream

import "strings"

// Mode classifies a filtered text segment.
type Mode int

const (
	// ModeDialogue marks text outside any <think> block.
	ModeDialogue Mode = iota

	// ModeThinking marks text inside a <think> block.
	ModeThinking
)

// String implements fmt.Stringer for log output.
func (m Mode) String() string {
	if m == ModeThinking {
		return "thinking"
	}
	return "dialogue"
}

// Segment is a run of filtered text in a single mode. Tag bytes themselves are
// never part of a segment.
type Segment struct {
	Text string
	Mode Mode
}

const (
	openTag  = "<think>"
	closeTag = "</think>"

	// maxCarry bounds the trailing bytes held back between chunks to detect a
	// tag straddling a chunk boundary. len(closeTag) is the longest tag.
	maxCarry = len(closeTag)
)

// ThinkFilter splits a chunked byte stream into dialogue and thinking
// segments by recognising the literal <think> and </think> tags.
//
// Tags may straddle chunk boundaries; the filter holds back at most maxCarry
// trailing bytes until the next chunk resolves them. Nesting is flat: a second
// <think> while already thinking has no extra effect, and </think> always
// returns to dialogue. The zero value is ready to use and starts in dialogue
// mode.
//
// Not safe for concurrent use; each turn owns its own filter.
type ThinkFilter struct {
	thinking bool
	carry    []byte
}

// NewThinkFilter returns a filter in dialogue mode.
func NewThinkFilter() *ThinkFilter {
	return &ThinkFilter{}
}

// Feed processes one chunk and returns the segments that are known to lie
// outside any tag. Adjacent output in the same mode is coalesced into a single
// segment. Text that could still be the start of a tag is carried over to the
// next Feed or Flush call.
func (f *ThinkFilter) Feed(chunk string) []Segment {
	data := string(f.carry) + chunk
	f.carry = f.carry[:0]

	var segs []Segment
	emit := func(text string, thinking bool) {
		if text == "" {
			return
		}
		mode := ModeDialogue
		if thinking {
			mode = ModeThinking
		}
		if n := len(segs); n > 0 && segs[n-1].Mode == mode {
			segs[n-1].Text += text
			return
		}
		segs = append(segs, Segment{Text: text, Mode: mode})
	}

	for {
		idx, tag := nextTag(data)
		if idx < 0 {
			break
		}
		emit(data[:idx], f.thinking)
		f.thinking = tag == openTag
		data = data[idx+len(tag):]
	}

	// Hold back any suffix that is a proper prefix of a tag.
	if hold := tagPrefixLen(data); hold > 0 {
		f.carry = append(f.carry, data[len(data)-hold:]...)
		data = data[:len(data)-hold]
	}
	emit(data, f.thinking)

	return segs
}

// Flush releases any held-back bytes as literal text in the current mode.
// Call it once after the last chunk; an unterminated tag prefix at stream end
// is treated as ordinary text.
func (f *ThinkFilter) Flush() []Segment {
	if len(f.carry) == 0 {
		return nil
	}
	text := string(f.carry)
	f.carry = f.carry[:0]
	mode := ModeDialogue
	if f.thinking {
		mode = ModeThinking
	}
	return []Segment{{Text: text, Mode: mode}}
}

// Thinking reports whether the filter is currently inside a think block.
func (f *ThinkFilter) Thinking() bool { return f.thinking }

// nextTag returns the index and literal of the earliest tag in s, or -1.
func nextTag(s string) (int, string) {
	oi := strings.Index(s, openTag)
	ci := strings.Index(s, closeTag)
	switch {
	case oi >= 0 && (ci < 0 || oi < ci):
		return oi, openTag
	case ci >= 0:
		return ci, closeTag
	default:
		return -1, ""
	}
}

// tagPrefixLen returns the length of the longest suffix of s that is a proper
// prefix of either tag, bounded by maxCarry-1 bytes.
func tagPrefixLen(s string) int {
	limit := maxCarry - 1
	if len(s) < limit {
		limit = len(s)
	}
	for n := limit; n > 0; n-- {
		suffix := s[len(s)-n:]
		if strings.HasPrefix(openTag, suffix) || strings.HasPrefix(closeTag, suffix) {
			return n
		}
	}
	return 0
}
