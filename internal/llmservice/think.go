package llmservice

import (
	"strings"
	"unicode"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter removes <think>...</think> spans from a stream of fragments,
// matching what StripThinking does to the finished text. A tag split across
// fragments is held back until the next fragment decides it.
type ThinkFilter struct {
	pending string
	inThink bool
	started bool
}

// Push returns the visible part of fragment, which may be empty.
func (f *ThinkFilter) Push(fragment string) string {
	s := f.pending + fragment
	f.pending = ""

	var out strings.Builder
	for s != "" {
		tag := thinkOpen
		if f.inThink {
			tag = thinkClose
		}
		if i := strings.Index(s, tag); i >= 0 {
			if !f.inThink {
				out.WriteString(s[:i])
			}
			s = s[i+len(tag):]
			f.inThink = !f.inThink
			continue
		}

		keep := partialTag(s, tag)
		if !f.inThink {
			out.WriteString(s[:len(s)-keep])
		}
		f.pending = s[len(s)-keep:]
		break
	}
	return f.visible(out.String())
}

// Flush returns text held back at the end of the stream. An unclosed
// <think> block is dropped.
func (f *ThinkFilter) Flush() string {
	s := f.pending
	f.pending = ""
	if f.inThink {
		return ""
	}
	return f.visible(s)
}

// visible trims whitespace before the first visible character.
func (f *ThinkFilter) visible(s string) string {
	if !f.started {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		f.started = s != ""
	}
	return s
}

// partialTag is the length of the longest suffix of s that starts tag.
func partialTag(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
