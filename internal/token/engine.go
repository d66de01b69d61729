// Package token rewrites confirmed PII spans into reversible placeholder
// tokens and restores them on undo.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/antoniostano/piiguard/internal/pii"
)

const (
	idLength = 6
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Redaction records one substitution.
type Redaction struct {
	Token    string   `json:"token"`
	Kind     pii.Kind `json:"kind"`
	Original string   `json:"original"`
	Remember bool     `json:"remember"`
}

// Engine mints tokens and keeps a process-wide vault of token to original
// value, so an undo that races a newer cycle still restores the right text.
type Engine struct {
	rand io.Reader

	mu    sync.RWMutex
	vault map[string]string
}

func NewEngine() *Engine {
	return newEngineWithRand(rand.Reader)
}

func newEngineWithRand(r io.Reader) *Engine {
	return &Engine{rand: r, vault: make(map[string]string)}
}

// Apply replaces every selected candidate in text with a fresh token.
// Spans are located in the original text first; a candidate starting inside
// an earlier candidate's span is folded into it, so one token covers the
// whole value. Substitution runs from the end of the buffer backwards and
// the returned redactions are in that order.
func (e *Engine) Apply(text string, selected []pii.Candidate, remember bool) (string, []Redaction, error) {
	if len(selected) == 0 {
		return text, nil, nil
	}

	spans := resolveSpans(text, selected)
	out := text
	redactions := make([]Redaction, 0, len(spans))
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		tok, err := e.mint(sp.kind, out)
		if err != nil {
			return text, nil, err
		}
		out = out[:sp.start] + tok + out[sp.end:]
		redactions = append(redactions, Redaction{
			Token:    tok,
			Kind:     sp.kind,
			Original: text[sp.start:sp.end],
			Remember: remember,
		})
	}

	e.mu.Lock()
	for _, r := range redactions {
		e.vault[r.Token] = r.Original
	}
	e.mu.Unlock()

	return out, redactions, nil
}

type span struct {
	start, end int
	kind       pii.Kind
}

// resolveSpans locates every candidate in text and returns disjoint spans in
// ascending order. Ties on start keep the longer span.
func resolveSpans(text string, selected []pii.Candidate) []span {
	words := pii.SplitWords(text)
	located := make([]span, 0, len(selected))
	for _, c := range selected {
		idx := c.Entity.Index
		if idx < 0 || idx >= words.Count() {
			continue
		}
		start, end, ok := locate(text, words, idx, c.Entity.Text)
		if !ok {
			continue
		}
		located = append(located, span{start: start, end: end, kind: c.Kind})
	}
	sort.SliceStable(located, func(i, j int) bool {
		if located[i].start != located[j].start {
			return located[i].start < located[j].start
		}
		return located[i].end > located[j].end
	})

	merged := make([]span, 0, len(located))
	for _, sp := range located {
		if n := len(merged); n > 0 && sp.start < merged[n-1].end {
			if sp.end > merged[n-1].end {
				merged[n-1].end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// locate finds the span to replace for the entity at word idx: the entity
// text where it begins inside that word, or the whole word when the text is
// not found there.
func locate(text string, words pii.Words, idx int, entityText string) (int, int, bool) {
	wordStart := words.Start(idx)
	word := words.Word(idx)
	if wordStart < 0 || wordStart > len(text) {
		return 0, 0, false
	}
	if entityText != "" {
		if off := strings.Index(text[wordStart:], entityText); off >= 0 && off < len(word) {
			start := wordStart + off
			return start, start + len(entityText), true
		}
	}
	if word == "" || wordStart+len(word) > len(text) {
		return 0, 0, false
	}
	return wordStart, wordStart + len(word), true
}

func (e *Engine) mint(kind pii.Kind, text string) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id, err := e.newID()
		if err != nil {
			return "", err
		}
		tok := pii.FormatToken(kind, id)
		if strings.Contains(text, tok) {
			continue
		}
		e.mu.RLock()
		_, taken := e.vault[tok]
		e.mu.RUnlock()
		if !taken {
			return tok, nil
		}
	}
	return "", fmt.Errorf("mint token: no unique id after retries")
}

func (e *Engine) newID() (string, error) {
	const limit = 252 // largest multiple of 36 below 256
	out := make([]byte, 0, idLength)
	buf := make([]byte, 16)
	for len(out) < idLength {
		if _, err := io.ReadFull(e.rand, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out), nil
}

// Original looks a token up in the vault.
func (e *Engine) Original(tok string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vault[tok]
	return v, ok
}

// Forget drops tokens from the vault.
func (e *Engine) Forget(tokens ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tokens {
		delete(e.vault, t)
	}
}

// Restore splices original back in place of the first occurrence of tok.
// It returns the byte offset just past the restored value, or ok=false when
// tok is absent and text is returned unchanged.
func Restore(text, tok, original string) (string, int, bool) {
	i := strings.Index(text, tok)
	if tok == "" || i < 0 {
		return text, 0, false
	}
	return text[:i] + original + text[i+len(tok):], i + len(original), true
}
