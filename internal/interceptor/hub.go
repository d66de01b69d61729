package interceptor

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/controller"
	"github.com/antoniostano/piiguard/internal/editor"
	"github.com/antoniostano/piiguard/internal/policy"
)

var ErrClosed = errors.New("interceptor hub closed")

// Hub owns one Interceptor per host and routes surface traffic to it.
type Hub struct {
	debounce time.Duration
	fallback policy.Policy
	deps     Deps

	mu     sync.Mutex
	hosts  map[string]*Interceptor
	closed bool
}

// NewHub builds a hub. New interceptors start from the policy marker on the
// bus, or from fallback when nothing was published yet.
func NewHub(debounce time.Duration, fallback policy.Policy, deps Deps) *Hub {
	return &Hub{
		debounce: debounce,
		fallback: fallback.Clone(),
		deps:     deps,
		hosts:    make(map[string]*Interceptor),
	}
}

// ForHost returns the interceptor for host, creating it on first use.
func (h *Hub) ForHost(host string) (*Interceptor, error) {
	host = strings.ToLower(strings.TrimSpace(host))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if i, ok := h.hosts[host]; ok {
		return i, nil
	}
	i := New(host, h.debounce, h.initialPolicy(), h.deps)
	i.Start()
	h.hosts[host] = i
	return i, nil
}

func (h *Hub) initialPolicy() policy.Policy {
	if h.deps.Bus != nil {
		if m := h.deps.Bus.Current(bridge.PolicyTopic); m.Version > 0 {
			return PolicyFromMarker(m, h.deps.Logger)
		}
	}
	return h.fallback.Clone()
}

// Attach attaches s under host and returns its interceptor.
func (h *Hub) Attach(s editor.Surface, host string) (*Interceptor, bool, error) {
	i, err := h.ForHost(host)
	if err != nil {
		return nil, false, err
	}
	return i, i.Attach(s), nil
}

// ForSurface returns the interceptor of an attached surface.
func (h *Hub) ForSurface(surfaceID string) (*Interceptor, error) {
	snap, err := h.deps.Registry.Get(surfaceID)
	if err != nil {
		return nil, err
	}
	return h.ForHost(snap.Host)
}

// HandleEvent routes a surface event. Input events go through the echo
// filter.
func (h *Hub) HandleEvent(surfaceID string, ev controller.Event) error {
	i, err := h.ForSurface(surfaceID)
	if err != nil {
		return err
	}
	if ev == controller.EventInput {
		i.HandleInput(surfaceID)
		return nil
	}
	i.HandleEvent(surfaceID, ev)
	return nil
}

func (h *Hub) Undo(surfaceID, tok string) error {
	i, err := h.ForSurface(surfaceID)
	if err != nil {
		return err
	}
	return i.Undo(surfaceID, tok)
}

// Forget drops controller state for a detached surface in every host.
func (h *Hub) Forget(surfaceID string) {
	h.mu.Lock()
	hosts := make([]*Interceptor, 0, len(h.hosts))
	for _, i := range h.hosts {
		hosts = append(hosts, i)
	}
	h.mu.Unlock()

	for _, i := range hosts {
		i.Forget(surfaceID)
	}
}

// Hosts returns the hosts that have an interceptor.
func (h *Hub) Hosts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.hosts))
	for host := range h.hosts {
		out = append(out, host)
	}
	return out
}

func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	hosts := h.hosts
	h.hosts = map[string]*Interceptor{}
	h.mu.Unlock()

	for _, i := range hosts {
		i.Close()
	}
}
