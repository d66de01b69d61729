// Package controller paces detection per surface: it debounces input, holds
// off during IME composition and stamps every cycle with a sequence number so
// superseded results can be dropped.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultDebounce = 300 * time.Millisecond

type Event string

const (
	EventInput            Event = "input"
	EventPaste            Event = "paste"
	EventBlur             Event = "blur"
	EventSubmit           Event = "submit"
	EventCompositionStart Event = "composition_start"
	EventCompositionEnd   Event = "composition_end"
)

// ParseEvent maps a wire name to an Event.
func ParseEvent(s string) (Event, bool) {
	switch e := Event(s); e {
	case EventInput, EventPaste, EventBlur, EventSubmit, EventCompositionStart, EventCompositionEnd:
		return e, true
	default:
		return "", false
	}
}

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending"
	PhaseInFlight Phase = "in_flight"
)

// CycleFunc runs one detection cycle for a surface. seq is the sequence
// number captured when the cycle started.
type CycleFunc func(ctx context.Context, surfaceID string, seq uint64) error

type surfaceState struct {
	phase            Phase
	timer            *time.Timer
	gen              uint64
	running          uint64
	composing        bool
	suppressNextBlur bool
}

type Controller struct {
	debounce time.Duration
	run      CycleFunc
	logger   *slog.Logger
	seq      atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	surfaces map[string]*surfaceState
	closed   bool
}

func New(debounce time.Duration, run CycleFunc, logger *slog.Logger) *Controller {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		debounce: debounce,
		run:      run,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		surfaces: make(map[string]*surfaceState),
	}
}

// Notify feeds a surface event into the state machine.
func (c *Controller) Notify(surfaceID string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	st := c.surfaces[surfaceID]
	if st == nil {
		st = &surfaceState{phase: PhaseIdle}
		c.surfaces[surfaceID] = st
	}

	suppressBlur := st.suppressNextBlur
	st.suppressNextBlur = false

	switch ev {
	case EventCompositionStart:
		st.composing = true
		c.stopLocked(st)
		if st.phase == PhasePending {
			st.phase = PhaseIdle
		}
		return
	case EventCompositionEnd:
		st.composing = false
		c.armLocked(surfaceID, st, 0)
		return
	}

	if st.composing {
		return
	}
	if ev == EventBlur && suppressBlur {
		return
	}
	c.armLocked(surfaceID, st, c.debounce)
}

// SuppressNextBlur makes the next blur on the surface a no-op. An undo click
// moves focus away from the editor and must not start a new cycle.
func (c *Controller) SuppressNextBlur(surfaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.surfaces[surfaceID]; st != nil {
		st.suppressNextBlur = true
		return
	}
	c.surfaces[surfaceID] = &surfaceState{phase: PhaseIdle, suppressNextBlur: true}
}

// IsCurrent reports whether seq is still the latest issued sequence number.
func (c *Controller) IsCurrent(seq uint64) bool {
	return c.seq.Load() == seq
}

// Sequence returns the latest issued sequence number.
func (c *Controller) Sequence() uint64 {
	return c.seq.Load()
}

// Phase reports the surface's current phase.
func (c *Controller) Phase(surfaceID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.surfaces[surfaceID]; st != nil {
		return st.phase
	}
	return PhaseIdle
}

// Forget drops a surface and its pending timer.
func (c *Controller) Forget(surfaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.surfaces[surfaceID]; st != nil {
		c.stopLocked(st)
		delete(c.surfaces, surfaceID)
	}
}

// Close stops every timer, cancels running cycles and waits for them.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, st := range c.surfaces {
		c.stopLocked(st)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) armLocked(surfaceID string, st *surfaceState, delay time.Duration) {
	c.stopLocked(st)
	st.gen++
	gen := st.gen
	st.phase = PhasePending
	st.timer = time.AfterFunc(delay, func() { c.fire(surfaceID, gen) })
}

func (c *Controller) stopLocked(st *surfaceState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
}

func (c *Controller) fire(surfaceID string, gen uint64) {
	c.mu.Lock()
	st := c.surfaces[surfaceID]
	if c.closed || st == nil || st.gen != gen {
		c.mu.Unlock()
		return
	}
	st.timer = nil
	st.phase = PhaseInFlight
	seq := c.seq.Add(1)
	st.running = seq
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	if err := c.runSafely(surfaceID, seq); err != nil {
		c.logger.Debug("detection cycle ended with error", "surface_id", surfaceID, "seq", seq, "error", err)
	}

	c.mu.Lock()
	if st := c.surfaces[surfaceID]; st != nil && st.running == seq && st.phase == PhaseInFlight {
		st.phase = PhaseIdle
	}
	c.mu.Unlock()
}

func (c *Controller) runSafely(surfaceID string, seq uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("detection cycle panicked", "surface_id", surfaceID, "seq", seq, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	if c.run == nil {
		return nil
	}
	return c.run(c.ctx, surfaceID, seq)
}
