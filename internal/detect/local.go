package detect

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/antoniostano/piiguard/internal/pii"
)

type matcher struct {
	label     pii.Label
	pattern   *regexp.Regexp
	heuristic bool
}

// Matchers are evaluated independently; the order below only affects the
// order raw candidates are collected in. Overlaps are settled by priority.
var matchers = []matcher{
	{label: pii.LabelEmail, pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{label: pii.LabelURL, pattern: regexp.MustCompile(`(?i)\bhttps?://[^\s)]+`)},
	{label: pii.LabelCreditCard, pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{label: pii.LabelPhone, pattern: regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{2,4}\)?[-.\s]?)?\d{3,4}[-.\s]?\d{4}\b`)},
	// Singapore NRIC/FIN: prefix letter, seven digits, checksum letter.
	{label: pii.LabelNRIC, pattern: regexp.MustCompile(`\b[STFGM]\d{7}[A-Z]\b`)},
	{label: pii.LabelIPv4, pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{label: pii.LabelIPv6, pattern: regexp.MustCompile(`\b(?:[A-Fa-f0-9]{1,4}:){2,7}[A-Fa-f0-9]{0,4}\b`)},
	{label: pii.LabelDOB, pattern: regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)},
	{label: pii.LabelDOB, pattern: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
	{label: pii.LabelDOB, pattern: regexp.MustCompile(`(?i)\b\d{1,2}\s(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s\d{4}\b`)},
	{label: pii.LabelAddress, heuristic: true, pattern: regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z\s]*\b(?:Street|St|Road|Rd|Avenue|Ave|Lane|Ln|Drive|Dr|Boulevard|Blvd)\b`)},
	{label: pii.LabelName, heuristic: true, pattern: regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2}\b`)},
}

// priorityOrder ranks labels from most to least specific. Structured kinds
// come first so they win overlaps against the loose heuristics.
var priorityOrder = []pii.Label{
	pii.LabelURL,
	pii.LabelEmail,
	pii.LabelCreditCard,
	pii.LabelPhone,
	pii.LabelNRIC,
	pii.LabelIPv4,
	pii.LabelIPv6,
	pii.LabelDOB,
	pii.LabelAddress,
	pii.LabelName,
}

var labelPriority = func() map[pii.Label]int {
	m := make(map[pii.Label]int, len(priorityOrder))
	for i, l := range priorityOrder {
		m[l] = i
	}
	return m
}()

func priorityOf(l pii.Label) int {
	if p, ok := labelPriority[l]; ok {
		return p
	}
	return len(priorityOrder)
}

// Local is the built-in pattern matcher. It never fails.
type Local struct {
	opts Options
}

func NewLocal(opts Options) *Local {
	return &Local{opts: opts}
}

func (d *Local) Detect(_ context.Context, text string) ([]pii.Entity, error) {
	return Scan(text, d.opts), nil
}

// Scan runs every enabled matcher over text and returns at most one entity
// per word index, sorted by index. It is pure: the same text and options
// always yield the same list.
func Scan(text string, opts Options) []pii.Entity {
	if pii.IsBlank(text) {
		return nil
	}

	words := pii.SplitWords(text)
	tokens := pii.TokenSpans(text)

	var raw []pii.Entity
	for _, m := range matchers {
		if m.heuristic && !opts.Heuristics {
			continue
		}
		for _, loc := range m.pattern.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if end <= start || overlapsAny(start, end, tokens) {
				continue
			}
			if m.label == pii.LabelName && isSentenceOpener(text, start, end) {
				continue
			}
			idx, ok := words.IndexAt(start)
			if !ok {
				continue
			}
			raw = append(raw, pii.Entity{Label: m.label, Index: idx, Text: text[start:end]})
		}
	}
	return Resolve(raw)
}

// Resolve deduplicates (label, index) pairs and keeps one entity per word
// index: highest priority first, then longer text, then lower index. The
// survivors are returned in ascending index order.
func Resolve(entities []pii.Entity) []pii.Entity {
	type key struct {
		label pii.Label
		index int
	}
	seen := make(map[key]struct{}, len(entities))
	dedup := make([]pii.Entity, 0, len(entities))
	for _, e := range entities {
		k := key{label: e.Label, index: e.Index}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		dedup = append(dedup, e)
	}

	sort.SliceStable(dedup, func(i, j int) bool {
		pi, pj := priorityOf(dedup[i].Label), priorityOf(dedup[j].Label)
		if pi != pj {
			return pi < pj
		}
		if li, lj := len(dedup[i].Text), len(dedup[j].Text); li != lj {
			return li > lj
		}
		return dedup[i].Index < dedup[j].Index
	})

	used := make(map[int]struct{}, len(dedup))
	kept := make([]pii.Entity, 0, len(dedup))
	for _, e := range dedup {
		if _, taken := used[e.Index]; taken {
			continue
		}
		used[e.Index] = struct{}{}
		kept = append(kept, e)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Index < kept[j].Index })
	return kept
}

// overlapsAny reports whether [start,end) intersects one of spans, which must
// be sorted and disjoint as returned by FindAllStringIndex.
func overlapsAny(start, end int, spans [][]int) bool {
	i := sort.Search(len(spans), func(k int) bool { return spans[k][1] > start })
	return i < len(spans) && spans[i][0] < end
}

// isSentenceOpener reports a single capitalized word that starts the buffer
// or follows terminal punctuation. Such words are almost always ordinary
// sentence openers rather than names.
func isSentenceOpener(text string, start, end int) bool {
	if strings.IndexFunc(text[start:end], unicode.IsSpace) >= 0 {
		return false
	}
	prev := strings.TrimRightFunc(text[:start], unicode.IsSpace)
	if prev == "" {
		return true
	}
	switch prev[len(prev)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
