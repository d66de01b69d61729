// Package editor tracks the editable surfaces the engine is attached to and
// writes rewritten text back into them.
package editor

// Surface is an editable text buffer with a caret. Offsets are byte offsets
// into Text.
type Surface interface {
	ID() string
	Text() string
	Caret() int
	SetText(text string, caret int)
}

// PlaceCaret keeps a caret that sat at the end of the old buffer at the end
// of the new one, and otherwise clamps it into range.
func PlaceCaret(oldText string, oldCaret int, newText string) int {
	if oldCaret >= len(oldText) {
		return len(newText)
	}
	if oldCaret < 0 {
		return 0
	}
	if oldCaret > len(newText) {
		return len(newText)
	}
	return oldCaret
}

// MemorySurface is an in-process Surface, used by the offline scanner and in
// tests.
type MemorySurface struct {
	id    string
	text  string
	caret int
	// OnSetText, when set, runs synchronously inside SetText, the way a DOM
	// input event fires during a programmatic write.
	OnSetText func(text string)
}

func NewMemorySurface(id, text string) *MemorySurface {
	return &MemorySurface{id: id, text: text, caret: len(text)}
}

func (s *MemorySurface) ID() string   { return s.id }
func (s *MemorySurface) Text() string { return s.text }
func (s *MemorySurface) Caret() int   { return s.caret }

func (s *MemorySurface) SetText(text string, caret int) {
	s.text = text
	s.caret = caret
	if s.OnSetText != nil {
		s.OnSetText(text)
	}
}

// Type replaces the buffer as if the user edited it.
func (s *MemorySurface) Type(text string, caret int) {
	s.text = text
	s.caret = caret
}
