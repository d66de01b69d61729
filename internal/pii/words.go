package pii

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Words is a whitespace-preserving segmentation of a buffer. Even segments are
// words (possibly empty at the edges), odd segments are the whitespace runs
// between them, so joining the segments reproduces the buffer exactly.
type Words struct {
	segments []string
	starts   []int
}

// SplitWords segments text. A leading whitespace run produces an empty word 0,
// matching how remote detectors number words.
func SplitWords(text string) Words {
	w := Words{}
	inSpace := false
	segStart := 0
	for i, r := range text {
		space := unicode.IsSpace(r)
		if space == inSpace {
			continue
		}
		w.segments = append(w.segments, text[segStart:i])
		w.starts = append(w.starts, segStart)
		segStart = i
		inSpace = space
	}
	w.segments = append(w.segments, text[segStart:])
	w.starts = append(w.starts, segStart)
	if inSpace {
		// Trailing whitespace is followed by an empty word.
		w.segments = append(w.segments, "")
		w.starts = append(w.starts, len(text))
	}
	return w
}

// Count returns the number of word slots, empty edge words included.
func (w Words) Count() int {
	return (len(w.segments) + 1) / 2
}

// Word returns the i-th word.
func (w Words) Word(i int) string {
	if i < 0 || i >= w.Count() {
		return ""
	}
	return w.segments[i*2]
}

// Start returns the byte offset where word i begins.
func (w Words) Start(i int) int {
	if i < 0 || i >= w.Count() {
		return -1
	}
	return w.starts[i*2]
}

// IndexAt returns the ordinal of the word containing byte offset off. Offsets
// inside whitespace or past the end report ok=false.
func (w Words) IndexAt(off int) (int, bool) {
	// Last segment starting at or before off; empty segments never contain it.
	seg := sort.Search(len(w.starts), func(k int) bool { return w.starts[k] > off }) - 1
	if seg < 0 || seg%2 == 1 || off >= w.starts[seg]+len(w.segments[seg]) {
		return 0, false
	}
	return seg / 2, true
}

// Replace swaps the content of word i. Out of range indices are ignored.
func (w *Words) Replace(i int, s string) {
	if i < 0 || i >= w.Count() {
		return
	}
	w.segments[i*2] = s
}

// String joins the segments back into a buffer.
func (w Words) String() string {
	return strings.Join(w.segments, "")
}

// IsBlank reports whether text has no non-space rune.
func IsBlank(text string) bool {
	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		if !unicode.IsSpace(r) {
			return false
		}
		text = text[size:]
	}
	return true
}
