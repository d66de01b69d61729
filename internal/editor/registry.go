package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antoniostano/piiguard/internal/token"
)

var ErrNotFound = errors.New("surface not found")

type entry struct {
	surface Surface
	host    string
	ctx     context.Context
	cancel  context.CancelFunc

	// op serializes apply and undo on this surface.
	op sync.Mutex

	state          State
	attachedAt     time.Time
	lastActivityAt time.Time
	writing        bool
	lastWritten    string
}

// Registry attaches each surface exactly once and owns its EditorState.
type Registry struct {
	mu                sync.RWMutex
	entries           map[string]*entry
	inactivityTimeout time.Duration
	onDetach          func(id string)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Registry{
		entries:           make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) InactivityTimeout() time.Duration {
	return r.inactivityTimeout
}

func (r *Registry) SetDetachHook(hook func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDetach = hook
}

// Attach starts tracking s. Attaching an already tracked surface is a no-op
// and reports false.
func (r *Registry) Attach(s Surface, host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[s.ID()]; ok {
		return false
	}
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	r.entries[s.ID()] = &entry{
		surface:        s,
		host:           host,
		ctx:            ctx,
		cancel:         cancel,
		state:          State{LastOriginalMap: map[string]string{}},
		attachedAt:     now,
		lastActivityAt: now,
	}
	return true
}

// Discover attaches every untracked surface and returns how many were new.
func (r *Registry) Discover(host string, surfaces ...Surface) int {
	added := 0
	for _, s := range surfaces {
		if r.Attach(s, host) {
			added++
		}
	}
	return added
}

// Detach drops the surface and its state. Unknown ids are a no-op.
func (r *Registry) Detach(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	hook := r.onDetach
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	if hook != nil {
		hook(id)
	}
	return true
}

// Close detaches every surface.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Detach(id)
	}
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	e.op.Lock()
	defer e.op.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:             id,
		Host:           e.host,
		State:          e.state.clone(),
		AttachedAt:     e.attachedAt,
		LastActivityAt: e.lastActivityAt,
	}, nil
}

// Surface returns the attached surface.
func (r *Registry) Surface(id string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.surface, true
}

// Context is canceled when the surface detaches.
func (r *Registry) Context(id string) (context.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.ctx, nil
}

func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.lastActivityAt = time.Now().UTC()
	return nil
}

// IsEcho reports whether an input carrying text was caused by our own
// write-back rather than the user.
func (r *Registry) IsEcho(id, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.writing {
		return true
	}
	if e.lastWritten != "" && text == e.lastWritten {
		e.lastWritten = ""
		return true
	}
	e.lastWritten = ""
	return false
}

// Handle is the view of one surface handed to Do callbacks.
type Handle struct {
	r *Registry
	e *entry
}

func (h *Handle) Surface() Surface { return h.e.surface }

// State returns a copy of the surface state.
func (h *Handle) State() State { return h.e.state.clone() }

// SetState replaces the surface state.
func (h *Handle) SetState(s State) { h.e.state = s.clone() }

// WriteBack writes text into the surface with echo suppression and caret
// preservation. A negative caret lets PlaceCaret decide.
func (h *Handle) WriteBack(text string, caret int) {
	s := h.e.surface
	if caret < 0 {
		caret = PlaceCaret(s.Text(), s.Caret(), text)
	}

	h.r.mu.Lock()
	h.e.writing = true
	h.r.mu.Unlock()

	s.SetText(text, caret)

	h.r.mu.Lock()
	h.e.writing = false
	h.e.lastWritten = text
	h.e.lastActivityAt = time.Now().UTC()
	h.r.mu.Unlock()
}

// Do runs fn with exclusive access to the surface's state.
func (r *Registry) Do(id string, fn func(h *Handle) error) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.ctx.Err() != nil {
		return ErrNotFound
	}
	return fn(&Handle{r: r, e: e})
}

// RecordRedactions stores the outcome of an apply.
func (h *Handle) RecordRedactions(reds []token.Redaction) {
	m := make(map[string]string, len(reds))
	for _, red := range reds {
		m[red.Token] = red.Original
	}
	h.e.state.LastOriginalMap = m
	h.e.state.ActiveRedactions = append(h.e.state.ActiveRedactions, reds...)
}

// Redaction returns the active redaction for tok without removing it.
func (h *Handle) Redaction(tok string) (token.Redaction, bool) {
	for _, red := range h.e.state.ActiveRedactions {
		if red.Token == tok {
			return red, true
		}
	}
	return token.Redaction{}, false
}

// TakeRedaction removes tok from the active redactions and returns it.
func (h *Handle) TakeRedaction(tok string) (token.Redaction, bool) {
	active := h.e.state.ActiveRedactions
	for i, red := range active {
		if red.Token != tok {
			continue
		}
		h.e.state.ActiveRedactions = append(append([]token.Redaction(nil), active[:i]...), active[i+1:]...)
		return red, true
	}
	return token.Redaction{}, false
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.detachInactive()
			}
		}
	}()
}

func (r *Registry) detachInactive() {
	now := time.Now().UTC()
	var stale []string

	r.mu.RLock()
	for id, e := range r.entries {
		if now.Sub(e.lastActivityAt) >= r.inactivityTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Detach(id)
	}
}
