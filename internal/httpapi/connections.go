package httpapi

import (
	"context"
	"sync"

	"github.com/antoniostano/piiguard/internal/interceptor"
	"github.com/antoniostano/piiguard/internal/protocol"
)

// wsSurface is an editor surface whose buffer lives in a websocket client.
// Writes are mirrored to the client as surface_text messages while a
// connection is bound.
type wsSurface struct {
	id string

	mu    sync.Mutex
	text  string
	caret int
	out   chan<- any
}

func newWSSurface(id string) *wsSurface {
	return &wsSurface{id: id}
}

func (s *wsSurface) ID() string { return s.id }

func (s *wsSurface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *wsSurface) Caret() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caret
}

func (s *wsSurface) SetText(text string, caret int) {
	s.mu.Lock()
	s.text = text
	s.caret = caret
	s.mu.Unlock()
	s.send(protocol.SurfaceText{
		Type:      protocol.TypeSurfaceText,
		SurfaceID: s.id,
		Text:      text,
		Caret:     caret,
	})
}

// update records a client-side edit.
func (s *wsSurface) update(text string, caret int) {
	if caret < 0 || caret > len(text) {
		caret = len(text)
	}
	s.mu.Lock()
	s.text = text
	s.caret = caret
	s.mu.Unlock()
}

func (s *wsSurface) bind(out chan<- any) {
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()
}

func (s *wsSurface) unbind(out chan<- any) {
	s.mu.Lock()
	if s.out == out {
		s.out = nil
	}
	s.mu.Unlock()
}

// send queues msg for the bound client. It reports false when no client is
// bound or its queue is full.
func (s *wsSurface) send(msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

type pendingPrompt struct {
	surfaceID string
	reply     chan promptReply
}

type promptReply struct {
	selection interceptor.Selection
	dismissed bool
}

// Connections tracks the websocket clients bound to surfaces. It is the
// Selector of websocket-backed surfaces and delivers their HUD summaries.
type Connections struct {
	mu       sync.Mutex
	surfaces map[string]*wsSurface
	pending  map[string]pendingPrompt
}

func NewConnections() *Connections {
	return &Connections{
		surfaces: make(map[string]*wsSurface),
		pending:  make(map[string]pendingPrompt),
	}
}

func (c *Connections) bind(s *wsSurface, out chan<- any) {
	s.bind(out)
	c.mu.Lock()
	c.surfaces[s.id] = s
	c.mu.Unlock()
}

// unbind drops the client and dismisses its open prompts.
func (c *Connections) unbind(s *wsSurface, out chan<- any) {
	s.unbind(out)
	c.mu.Lock()
	if cur, ok := c.surfaces[s.id]; ok && cur == s {
		delete(c.surfaces, s.id)
	}
	for id, p := range c.pending {
		if p.surfaceID != s.id {
			continue
		}
		select {
		case p.reply <- promptReply{dismissed: true}:
		default:
		}
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Connections) lookup(surfaceID string) *wsSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surfaces[surfaceID]
}

// Select sends a selection_request to the surface's client and waits for
// the matching selection_response. A surface without a client counts as a
// dismissed prompt.
func (c *Connections) Select(ctx context.Context, p interceptor.Prompt) (interceptor.Selection, error) {
	s := c.lookup(p.SurfaceID)
	if s == nil {
		return interceptor.Selection{}, interceptor.ErrPromptDismissed
	}

	reply := make(chan promptReply, 1)
	c.mu.Lock()
	c.pending[p.ID] = pendingPrompt{surfaceID: p.SurfaceID, reply: reply}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, p.ID)
		c.mu.Unlock()
	}()

	if !s.send(selectionRequest(p)) {
		return interceptor.Selection{}, interceptor.ErrPromptDismissed
	}

	select {
	case <-ctx.Done():
		return interceptor.Selection{}, ctx.Err()
	case r := <-reply:
		if r.dismissed {
			return interceptor.Selection{}, interceptor.ErrPromptDismissed
		}
		return r.selection, nil
	}
}

// resolve answers an open prompt. Responses for unknown prompts or from a
// different surface are ignored.
func (c *Connections) resolve(surfaceID string, resp protocol.SelectionResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[resp.PromptID]
	if !ok || p.surfaceID != surfaceID {
		return false
	}
	delete(c.pending, resp.PromptID)
	sel := interceptor.Selection{
		Selected: append([]int(nil), resp.Selected...),
		Remember: resp.Remember,
	}
	select {
	case p.reply <- promptReply{selection: sel}:
	default:
	}
	return true
}

// PublishSummary pushes a redactions_applied message to the surface's
// client, if one is bound.
func (c *Connections) PublishSummary(sum interceptor.Summary) {
	s := c.lookup(sum.SurfaceID)
	if s == nil {
		return
	}
	counts := make(map[string]int, len(sum.Counts))
	for k, n := range sum.Counts {
		counts[string(k)] = n
	}
	s.send(protocol.RedactionsApplied{
		Type:       protocol.TypeRedactionsApplied,
		SurfaceID:  sum.SurfaceID,
		Redactions: sum.Redactions,
		Counts:     counts,
		UserAction: sum.UserAction,
	})
}

func selectionRequest(p interceptor.Prompt) protocol.SelectionRequest {
	groups := make([]protocol.PromptGroup, 0, len(p.Groups))
	for _, g := range p.Groups {
		pg := protocol.PromptGroup{Kind: string(g.Kind)}
		for _, i := range g.Members {
			c := p.Candidates[i]
			pg.Candidates = append(pg.Candidates, protocol.PromptCandidate{
				ID:    i,
				Label: string(c.Entity.Label),
				Index: c.Entity.Index,
				Text:  c.Entity.Text,
			})
		}
		groups = append(groups, pg)
	}
	return protocol.SelectionRequest{
		Type:      protocol.TypeSelectionRequest,
		PromptID:  p.ID,
		SurfaceID: p.SurfaceID,
		Groups:    groups,
	}
}
