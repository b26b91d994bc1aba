package stream

import "strings"

// SentenceBuffer accumulates dialogue text and emits complete sentences as
// soon as a terminator is seen. Sentences are extracted eagerly so the first
// synthesis request can start before the model finishes the paragraph.
//
// Terminators: the Chinese stops 。！？；…, their ASCII counterparts .!?;, a
// colon at end of line, and two or more consecutive newlines. Closing quotes
// or brackets that directly follow a terminator are pulled into the sentence.
// A terminator run that reaches the end of the buffer is held until the next
// rune arrives, because the next chunk may open with more terminators or a
// closing quote that belongs to the same sentence. This makes the emitted
// sentence sequence independent of how the input was chunked; Finish flushes
// whatever is held. Extracted text is whitespace-trimmed; a candidate
// consisting only of terminators and punctuation is discarded.
//
// Not safe for concurrent use; each turn owns its own buffer.
type SentenceBuffer struct {
	pending []rune
}

// NewSentenceBuffer returns an empty buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Write appends text and returns all complete sentences extracted from the
// buffer, in order. Leftover text stays buffered for the next Write or Finish.
func (b *SentenceBuffer) Write(text string) []string {
	if text == "" {
		return nil
	}
	b.pending = append(b.pending, []rune(text)...)

	var out []string
	start := 0
	i := 0
	for i < len(b.pending) {
		r := b.pending[i]
		switch {
		case isTerminator(r):
			end := i + 1
			for end < len(b.pending) && (isTerminator(b.pending[end]) || isClosing(b.pending[end])) {
				end++
			}
			if end == len(b.pending) {
				// The run touches the buffer edge; the next chunk may extend
				// it with another terminator or a closing quote. Hold until a
				// non-absorbing rune or Finish.
				i = end
				continue
			}
			if s := cleanSentence(b.pending[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
			i = end

		case r == ':' || r == '：':
			// A colon terminates only at end of line. At the very end of the
			// buffer the next rune is unknown, so wait for more input.
			if i+1 < len(b.pending) && b.pending[i+1] == '\n' {
				if s := cleanSentence(b.pending[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
			i++

		case r == '\n':
			j := i
			for j < len(b.pending) && b.pending[j] == '\n' {
				j++
			}
			if j-i >= 2 && j < len(b.pending) {
				if s := cleanSentence(b.pending[start:i]); s != "" {
					out = append(out, s)
				}
				start = j
			}
			// A trailing newline run is left pending: it may still grow into
			// a paragraph break with the next chunk.
			i = j

		default:
			i++
		}
	}

	if start > 0 {
		b.pending = append([]rune(nil), b.pending[start:]...)
	}
	return out
}

// Finish flushes the buffer. Any non-empty remainder is returned as the final
// sentence; an empty string means nothing was left. The buffer is reset.
func (b *SentenceBuffer) Finish() string {
	s := cleanSentence(b.pending)
	b.pending = nil
	return s
}

// Len returns the number of buffered runes not yet emitted.
func (b *SentenceBuffer) Len() int { return len(b.pending) }

// cleanSentence trims the candidate and discards terminator-only lines.
func cleanSentence(runes []rune) string {
	s := strings.TrimSpace(string(runes))
	if s == "" {
		return ""
	}
	for _, r := range s {
		if !isTerminator(r) && !isClosing(r) && r != ':' && r != '：' && r != ' ' {
			return s
		}
	}
	return ""
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '…', '.', '!', '?', ';':
		return true
	}
	return false
}

// isClosing reports whether r is a closing quote or bracket that should stay
// attached to the sentence it ends.
func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '」', '』', '）', '】', '》':
		return true
	}
	return false
}
