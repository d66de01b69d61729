package allowlist

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/antoniostano/piiguard/internal/pii"
)

// List is a concurrency-safe set of allowlisted entries. Each approval stores
// both the raw value and its normalized key, so either form suppresses a
// later match.
type List struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

func New(values ...string) *List {
	l := &List{entries: make(map[string]struct{}, len(values))}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			l.entries[v] = struct{}{}
		}
	}
	return l
}

// Add records value for kind. It reports whether anything new was stored.
func (l *List) Add(kind pii.Kind, value string) bool {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return false
	}
	key := Key(kind, value)

	l.mu.Lock()
	defer l.mu.Unlock()
	added := false
	for _, v := range []string{raw, key} {
		if _, ok := l.entries[v]; !ok {
			l.entries[v] = struct{}{}
			added = true
		}
	}
	return added
}

// Contains reports whether value of kind was approved, matching either the
// normalized key or the trimmed raw text.
func (l *List) Contains(kind pii.Kind, value string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.entries[Key(kind, value)]; ok {
		return true
	}
	_, ok := l.entries[strings.TrimSpace(value)]
	return ok
}

// Filter drops every candidate already on the list.
func (l *List) Filter(candidates []pii.Candidate) []pii.Candidate {
	out := make([]pii.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if l.Contains(c.Kind, c.Entity.Text) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Values returns a sorted snapshot of every stored entry.
func (l *List) Values() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for v := range l.entries {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Replace swaps the whole content, last writer wins.
func (l *List) Replace(values []string) {
	next := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			next[v] = struct{}{}
		}
	}
	l.mu.Lock()
	l.entries = next
	l.mu.Unlock()
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Encode serializes values as base64 of a UTF-8 JSON array, the payload
// format carried by bridge markers.
func Encode(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal allowlist: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode is the inverse of Encode. An empty payload decodes to an empty list.
func Decode(payload string) ([]string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return []string{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode allowlist payload: %w", err)
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("unmarshal allowlist payload: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
