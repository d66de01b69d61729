// Package interceptor runs the detect, confirm and redact loop for the
// surfaces of one host.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/piiguard/internal/allowlist"
	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/controller"
	"github.com/antoniostano/piiguard/internal/detect"
	"github.com/antoniostano/piiguard/internal/editor"
	"github.com/antoniostano/piiguard/internal/observability"
	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/policy"
	"github.com/antoniostano/piiguard/internal/token"
)

const tracerName = "piiguard/interceptor"

// DetectorSource hands out the detector matching the live policy.
type DetectorSource interface {
	For(useRemote bool, url string) detect.Detector
}

// Deps are the shared collaborators of every interceptor.
type Deps struct {
	Registry  *editor.Registry
	Detectors DetectorSource
	Selector  Selector
	Tokens    *token.Engine
	Allowlist *allowlist.List
	Bus       *bridge.Bus
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// OnSummary receives the HUD payload after every apply and undo.
	OnSummary func(Summary)
}

type Interceptor struct {
	host    string
	deps    Deps
	logger  *slog.Logger
	tracer  trace.Tracer
	control *controller.Controller

	mu      sync.RWMutex
	policy  policy.Policy
	enabled atomic.Bool

	sub     *bridge.Subscription
	stopped chan struct{}
	once    sync.Once
}

func New(host string, debounce time.Duration, initial policy.Policy, deps Deps) *Interceptor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	i := &Interceptor{
		host:    host,
		deps:    deps,
		logger:  logger.With("host", host),
		tracer:  otel.Tracer(tracerName),
		stopped: make(chan struct{}),
	}
	i.control = controller.New(debounce, i.runCycle, i.logger)
	i.SetPolicy(initial)
	return i
}

func (i *Interceptor) Host() string { return i.host }

// Enabled reports whether the policy currently enables this host.
func (i *Interceptor) Enabled() bool { return i.enabled.Load() }

// Policy returns a copy of the live policy.
func (i *Interceptor) Policy() policy.Policy {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.policy.Clone()
}

// SetPolicy swaps the live policy and enables or disables the host.
func (i *Interceptor) SetPolicy(p policy.Policy) {
	p = p.Clone()
	enabled := policy.IsHostEnabled(p, i.host)

	i.mu.Lock()
	i.policy = p
	i.mu.Unlock()

	if was := i.enabled.Swap(enabled); was != enabled {
		i.logger.Info("interceptor toggled by policy", "enabled", enabled)
		if !enabled && i.deps.Registry != nil {
			for _, id := range i.deps.Registry.IDs() {
				i.control.Forget(id)
			}
		}
	}
}

// Start follows policy changes published on the bridge.
func (i *Interceptor) Start() {
	if i.deps.Bus == nil {
		return
	}
	i.sub = i.deps.Bus.Subscribe(8, bridge.PolicyTopic)
	go func() {
		defer close(i.stopped)
		for range i.sub.C {
			i.SetPolicy(PolicyFromMarker(i.deps.Bus.Current(bridge.PolicyTopic), i.logger))
		}
	}()
}

// PolicyFromMarker decodes a policy marker. An empty or malformed marker
// yields the default policy.
func PolicyFromMarker(m bridge.Marker, logger *slog.Logger) policy.Policy {
	if m.Version == 0 || m.Payload == "" {
		return policy.Default()
	}
	raw, err := bridge.RawPayload(m.Payload)
	if err == nil {
		var p policy.Policy
		if p, err = policy.Decode(raw); err == nil {
			return p
		}
	}
	if logger != nil {
		logger.Warn("policy marker is malformed, using defaults", "version", m.Version, "error", err)
	}
	return policy.Default()
}

// Attach tracks s for this host. It reports false for an already tracked
// surface.
func (i *Interceptor) Attach(s editor.Surface) bool {
	added := i.deps.Registry.Attach(s, i.host)
	if added && i.deps.Metrics != nil {
		i.deps.Metrics.ActiveSurfaces.Set(float64(i.deps.Registry.ActiveCount()))
		i.deps.Metrics.SurfaceEvents.WithLabelValues("attach").Inc()
	}
	return added
}

// HandleInput reacts to a change of the surface buffer. Changes caused by our
// own write-back are ignored.
func (i *Interceptor) HandleInput(surfaceID string) {
	s, ok := i.deps.Registry.Surface(surfaceID)
	if !ok {
		return
	}
	if i.deps.Registry.IsEcho(surfaceID, s.Text()) {
		return
	}
	i.HandleEvent(surfaceID, controller.EventInput)
}

// HandleEvent feeds a non-text event (paste, blur, submit, IME) to the
// controller.
func (i *Interceptor) HandleEvent(surfaceID string, ev controller.Event) {
	if !i.enabled.Load() {
		return
	}
	if err := i.deps.Registry.Touch(surfaceID); err != nil {
		return
	}
	i.control.Notify(surfaceID, ev)
}

// Forget drops controller state for a detached surface.
func (i *Interceptor) Forget(surfaceID string) {
	i.control.Forget(surfaceID)
}

// Close stops the controller and the policy subscription.
func (i *Interceptor) Close() {
	i.once.Do(func() {
		i.control.Close()
		if i.sub != nil {
			i.sub.Close()
			<-i.stopped
		}
	})
}

func (i *Interceptor) runCycle(ctx context.Context, surfaceID string, seq uint64) error {
	started := time.Now()
	outcome, err := i.cycle(ctx, surfaceID, seq)
	if i.deps.Metrics != nil {
		i.deps.Metrics.ObserveCycle(outcome, time.Since(started))
	}
	i.logger.Debug("detection cycle finished", "surface_id", surfaceID, "seq", seq, "outcome", outcome)
	return err
}

func (i *Interceptor) cycle(ctx context.Context, surfaceID string, seq uint64) (string, error) {
	if !i.enabled.Load() {
		return "disabled", nil
	}
	surface, ok := i.deps.Registry.Surface(surfaceID)
	if !ok {
		return "detached", nil
	}
	surfaceCtx, err := i.deps.Registry.Context(surfaceID)
	if err != nil {
		return "detached", nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(surfaceCtx, cancel)
	defer stop()

	ctx, span := i.tracer.Start(ctx, "interceptor.cycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("surface.id", surfaceID),
		attribute.String("surface.host", i.host),
		attribute.Int64("cycle.seq", int64(seq)),
	)

	text := surface.Text()
	if pii.IsBlank(text) {
		return "blank", nil
	}

	pol := i.Policy()
	detector := i.deps.Detectors.For(pol.UseRemoteDetector, pol.RemoteDetectorURL)
	entities, err := detector.Detect(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detect failed")
		return "error", fmt.Errorf("detect: %w", err)
	}
	if !i.control.IsCurrent(seq) {
		return "stale", nil
	}

	candidates := pii.Classify(entities)
	candidates = policy.Redactable(pol, candidates)
	candidates = i.deps.Allowlist.Filter(candidates)
	span.SetAttributes(attribute.Int("cycle.candidates", len(candidates)))
	if len(candidates) == 0 {
		return "clean", nil
	}

	prompt := newPrompt(surfaceID, i.host, candidates)
	waitStarted := time.Now()
	sel, err := i.deps.Selector.Select(ctx, prompt)
	if i.deps.Metrics != nil {
		i.deps.Metrics.ObserveStage("select_wait", time.Since(waitStarted))
	}
	if err != nil {
		if errors.Is(err, ErrPromptDismissed) || errors.Is(err, context.Canceled) {
			return "dismissed", nil
		}
		return "error", fmt.Errorf("select: %w", err)
	}
	chosen := prompt.Pick(sel)
	if len(chosen) == 0 {
		return "declined", nil
	}

	applyStarted := time.Now()
	var (
		applied []token.Redaction
		active  []token.Redaction
	)
	err = i.deps.Registry.Do(surfaceID, func(h *editor.Handle) error {
		current := h.Surface().Text()
		out, reds, err := i.deps.Tokens.Apply(current, chosen, sel.Remember)
		if err != nil {
			return err
		}
		if len(reds) == 0 {
			return nil
		}
		h.WriteBack(out, -1)
		h.RecordRedactions(reds)
		applied = reds
		active = h.State().ActiveRedactions
		return nil
	})
	if err != nil {
		if errors.Is(err, editor.ErrNotFound) {
			return "detached", nil
		}
		return "error", fmt.Errorf("apply: %w", err)
	}
	if i.deps.Metrics != nil {
		i.deps.Metrics.ObserveStage("apply", time.Since(applyStarted))
	}
	if len(applied) == 0 {
		return "declined", nil
	}

	for _, r := range applied {
		if i.deps.Metrics != nil {
			i.deps.Metrics.Redactions.WithLabelValues(string(r.Kind)).Inc()
		}
	}
	if sel.Remember {
		i.remember(applied)
	}
	i.emit(newSummary(surfaceID, active, true))
	i.logger.Info("applied redactions", "surface_id", surfaceID, "count", len(applied), "remember", sel.Remember)
	return "redacted", nil
}

// Undo restores tok in the surface and forgets the redaction. A token that is
// no longer in the buffer is a no-op.
func (i *Interceptor) Undo(surfaceID, tok string) error {
	i.control.SuppressNextBlur(surfaceID)

	var (
		red    token.Redaction
		found  bool
		active []token.Redaction
	)
	err := i.deps.Registry.Do(surfaceID, func(h *editor.Handle) error {
		tracked, isActive := h.Redaction(tok)
		original := tracked.Original
		if !isActive {
			var ok bool
			if original, ok = i.deps.Tokens.Original(tok); !ok {
				return nil
			}
		}
		next, caret, ok := token.Restore(h.Surface().Text(), tok, original)
		if !ok {
			return nil
		}
		h.WriteBack(next, caret)
		i.deps.Tokens.Forget(tok)
		if isActive {
			red, found = h.TakeRedaction(tok)
		}
		active = h.State().ActiveRedactions
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if i.deps.Metrics != nil {
		i.deps.Metrics.Undos.WithLabelValues(string(red.Kind)).Inc()
	}
	if red.Remember {
		i.remember([]token.Redaction{red})
	}
	i.emit(newSummary(surfaceID, active, true))
	i.logger.Info("undid redaction", "surface_id", surfaceID, "kind", red.Kind)
	return nil
}

func (i *Interceptor) remember(reds []token.Redaction) {
	changed := false
	for _, r := range reds {
		if i.deps.Allowlist.Add(r.Kind, r.Original) {
			changed = true
		}
	}
	if !changed || i.deps.Bus == nil {
		return
	}
	payload, err := allowlist.Encode(i.deps.Allowlist.Values())
	if err != nil {
		i.logger.Warn("encode allowlist failed", "error", err)
		return
	}
	i.deps.Bus.Publish(bridge.AllowlistTopic, payload)
}

func (i *Interceptor) emit(s Summary) {
	if i.deps.OnSummary != nil {
		i.deps.OnSummary(s)
	}
}
