// Package segment cuts a streamed response into sentences for speech synthesis.
package segment

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// IsTerminator reports whether r ends a sentence.
func IsTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '\n':
		return true
	}
	return false
}

// Scanner accumulates streamed fragments and yields complete sentences.
//
// The scanner keeps a cursor into its buffer so each Feed only examines bytes
// that arrived since the previous call. A fragment that ends in the middle of a
// multi-byte rune is held until the rest of the rune arrives.
type Scanner struct {
	buf    string
	cursor int
}

// Feed appends a fragment and returns every sentence completed by it, in order.
// Returned sentences include their terminator and are trimmed of surrounding
// whitespace; blank sentences are dropped.
func (s *Scanner) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buf += fragment

	var out []string
	start := 0
	for s.cursor < len(s.buf) {
		rest := s.buf[s.cursor:]
		if !utf8.FullRuneInString(rest) {
			break
		}
		r, size := utf8.DecodeRuneInString(rest)
		s.cursor += size
		if !IsTerminator(r) {
			continue
		}
		if sentence := strings.TrimSpace(s.buf[start:s.cursor]); sentence != "" {
			out = append(out, sentence)
		}
		start = s.cursor
	}

	if start > 0 {
		s.buf = s.buf[start:]
		s.cursor -= start
	}
	return out
}

// Flush returns the unterminated remainder, trimmed, and empties the scanner.
// It returns "" when nothing but whitespace is buffered.
func (s *Scanner) Flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	s.cursor = 0
	return rest
}

// Pending returns the buffered text not yet emitted as a sentence.
func (s *Scanner) Pending() string {
	return s.buf
}

// Segments turns a finite stream of fragments into a stream of sentences,
// flushing the remainder once the fragments are exhausted.
func Segments(fragments iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		var sc Scanner
		for frag := range fragments {
			for _, sentence := range sc.Feed(frag) {
				if !yield(sentence) {
					return
				}
			}
		}
		if rest := sc.Flush(); rest != "" {
			yield(rest)
		}
	}
}

// Split segments a complete text in one call.
func Split(text string) []string {
	var out []string
	for sentence := range Segments(func(yield func(string) bool) { yield(text) }) {
		out = append(out, sentence)
	}
	return out
}
