package interceptor

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/antoniostano/piiguard/internal/pii"
)

// ErrPromptDismissed is returned by selectors when the user closed the prompt
// without answering.
var ErrPromptDismissed = errors.New("prompt dismissed")

// Selector presents candidates and waits for the user's choice. The core sets
// no deadline; implementations return when ctx ends.
type Selector interface {
	Select(ctx context.Context, prompt Prompt) (Selection, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, prompt Prompt) (Selection, error)

func (f SelectorFunc) Select(ctx context.Context, prompt Prompt) (Selection, error) {
	return f(ctx, prompt)
}

// Prompt lists the candidates of one cycle. Candidates[i] is addressed by
// its position i; Groups indexes into Candidates by kind, in first-seen
// order.
type Prompt struct {
	ID         string
	SurfaceID  string
	Host       string
	Candidates []pii.Candidate
	Groups     []PromptGroup
}

type PromptGroup struct {
	Kind    pii.Kind
	Members []int
}

// Selection is the user's answer: positions into Prompt.Candidates and
// whether to remember the choice.
type Selection struct {
	Selected []int
	Remember bool
}

func newPrompt(surfaceID, host string, candidates []pii.Candidate) Prompt {
	order, _ := pii.GroupByKind(candidates)
	groups := make([]PromptGroup, 0, len(order))
	pos := make(map[pii.Kind]int, len(order))
	for _, k := range order {
		pos[k] = len(groups)
		groups = append(groups, PromptGroup{Kind: k})
	}
	for i, c := range candidates {
		g := &groups[pos[c.Kind]]
		g.Members = append(g.Members, i)
	}
	return Prompt{
		ID:         uuid.NewString(),
		SurfaceID:  surfaceID,
		Host:       host,
		Candidates: candidates,
		Groups:     groups,
	}
}

// Pick resolves a selection to candidates, ignoring out-of-range and
// repeated positions.
func (p Prompt) Pick(sel Selection) []pii.Candidate {
	seen := make(map[int]struct{}, len(sel.Selected))
	out := make([]pii.Candidate, 0, len(sel.Selected))
	for _, i := range sel.Selected {
		if i < 0 || i >= len(p.Candidates) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, p.Candidates[i])
	}
	return out
}

// SelectAll is a Selector that accepts every candidate. The offline scanner
// uses it.
func SelectAll(remember bool) Selector {
	return SelectorFunc(func(_ context.Context, p Prompt) (Selection, error) {
		sel := Selection{Selected: make([]int, len(p.Candidates)), Remember: remember}
		for i := range p.Candidates {
			sel.Selected[i] = i
		}
		return sel, nil
	})
}
