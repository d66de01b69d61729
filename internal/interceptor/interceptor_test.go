package interceptor

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const testHost = "chat.openai.com"

func localPolicy() policy.Policy {
	p := policy.Default()
	p.UseRemoteDetector = false
	return p
}

type fixture struct {
	deps      Deps
	summaries chan Summary
}

func newFixture(t *testing.T, sel Selector) *fixture {
	t.Helper()
	f := &fixture{summaries: make(chan Summary, 8)}
	f.deps = Deps{
		Registry:  editor.NewRegistry(time.Minute),
		Detectors: detect.NewResolver(detect.DefaultOptions(), time.Second, nil, detect.Hooks{}),
		Selector:  sel,
		Tokens:    token.NewEngine(),
		Allowlist: allowlist.New(),
		Bus:       bridge.NewBus(),
		OnSummary: func(s Summary) { f.summaries <- s },
	}
	return f
}

func (f *fixture) awaitSummary(t *testing.T) Summary {
	t.Helper()
	select {
	case s := <-f.summaries:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redaction summary")
		return Summary{}
	}
}

func TestCycleRedactsSelectedCandidatesAndUndoRestores(t *testing.T) {
	var prompts []Prompt
	sel := SelectorFunc(func(_ context.Context, p Prompt) (Selection, error) {
		prompts = append(prompts, p)
		return Selection{Selected: []int{0, 1}}, nil
	})
	f := newFixture(t, sel)
	i := New(testHost, 10*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	surface := editor.NewMemorySurface("s1", "Contact me at john@example.com or 91234567")
	require.True(t, i.Attach(surface))
	i.HandleInput("s1")

	summary := f.awaitSummary(t)
	require.Len(t, prompts, 1)
	require.Len(t, prompts[0].Candidates, 2)
	assert.Equal(t, []PromptGroup{
		{Kind: pii.KindEmail, Members: []int{0}},
		{Kind: pii.KindPhone, Members: []int{1}},
	}, prompts[0].Groups)

	require.Len(t, summary.Redactions, 2)
	assert.True(t, summary.UserAction)
	assert.Equal(t, map[pii.Kind]int{pii.KindEmail: 1, pii.KindPhone: 1}, summary.Counts)

	text := surface.Text()
	assert.Len(t, pii.TokenSpans(text), 2)
	assert.NotContains(t, text, "john@example.com")
	assert.NotContains(t, text, "91234567")

	var emailTok, phoneTok string
	for _, r := range summary.Redactions {
		switch r.Kind {
		case pii.KindEmail:
			emailTok = r.Token
		case pii.KindPhone:
			phoneTok = r.Token
		}
	}
	require.NotEmpty(t, emailTok)
	require.NotEmpty(t, phoneTok)

	require.NoError(t, i.Undo("s1", emailTok))
	undone := f.awaitSummary(t)
	require.Len(t, undone.Redactions, 1)
	assert.Equal(t, phoneTok, undone.Redactions[0].Token)
	assert.Equal(t, "Contact me at john@example.com or "+phoneTok, surface.Text())

	snap, err := f.deps.Registry.Get("s1")
	require.NoError(t, err)
	require.Len(t, snap.State.ActiveRedactions, 1)
	assert.Equal(t, phoneTok, snap.State.ActiveRedactions[0].Token)
}

func TestUndoUnknownTokenIsNoOp(t *testing.T) {
	f := newFixture(t, SelectAll(false))
	i := New(testHost, time.Hour, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	surface := editor.NewMemorySurface("s1", "nothing here")
	i.Attach(surface)
	require.NoError(t, i.Undo("s1", "[EMAIL_zzzzzz]"))
	assert.Equal(t, "nothing here", surface.Text())
	assert.Empty(t, f.summaries)
}

func TestUndoOfTokenGoneFromBufferIsNoOp(t *testing.T) {
	f := newFixture(t, SelectAll(true))
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	surface := editor.NewMemorySurface("s1", "write to jane@corp.io")
	i.Attach(surface)
	i.HandleInput("s1")
	summary := f.awaitSummary(t)
	require.Len(t, summary.Redactions, 1)
	tok := summary.Redactions[0].Token

	surface.Type("write to nobody", len("write to nobody"))
	f.deps.Allowlist.Replace(nil)

	require.NoError(t, i.Undo("s1", tok))
	assert.Equal(t, "write to nobody", surface.Text())
	assert.Empty(t, f.summaries)
	assert.Zero(t, f.deps.Allowlist.Len())

	snap, err := f.deps.Registry.Get("s1")
	require.NoError(t, err)
	require.Len(t, snap.State.ActiveRedactions, 1)
	assert.Equal(t, tok, snap.State.ActiveRedactions[0].Token)
	_, ok := f.deps.Tokens.Original(tok)
	assert.True(t, ok, "vault keeps the token for a later undo")
}

func TestUndoOnDetachedSurfaceReturnsNotFound(t *testing.T) {
	f := newFixture(t, SelectAll(false))
	i := New(testHost, time.Hour, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	require.ErrorIs(t, i.Undo("missing", "[EMAIL_zzzzzz]"), editor.ErrNotFound)
}

func TestDismissedPromptLeavesTextUntouched(t *testing.T) {
	var calls atomic.Int32
	sel := SelectorFunc(func(context.Context, Prompt) (Selection, error) {
		calls.Add(1)
		return Selection{}, ErrPromptDismissed
	})
	f := newFixture(t, sel)
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)

	surface := editor.NewMemorySurface("s1", "mail me at jane@corp.io")
	i.Attach(surface)
	i.HandleInput("s1")

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	i.Close()
	assert.Equal(t, "mail me at jane@corp.io", surface.Text())
	assert.Empty(t, f.summaries)
}

func TestDisabledHostNeverPrompts(t *testing.T) {
	var calls atomic.Int32
	sel := SelectorFunc(func(context.Context, Prompt) (Selection, error) {
		calls.Add(1)
		return Selection{}, nil
	})
	f := newFixture(t, sel)
	i := New("example.org", 5*time.Millisecond, localPolicy(), f.deps)
	require.False(t, i.Enabled())

	i.Attach(editor.NewMemorySurface("s1", "mail me at jane@corp.io"))
	i.HandleInput("s1")
	time.Sleep(30 * time.Millisecond)
	i.Close()
	assert.Zero(t, calls.Load())
}

func TestAllowlistedValuesAreNotOffered(t *testing.T) {
	var offered []pii.Candidate
	sel := SelectorFunc(func(_ context.Context, p Prompt) (Selection, error) {
		offered = append(offered, p.Candidates...)
		return Selection{Selected: []int{0}}, nil
	})
	f := newFixture(t, sel)
	f.deps.Allowlist.Add(pii.KindEmail, "john@example.com")
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	i.Attach(editor.NewMemorySurface("s1", "Contact me at john@example.com or 91234567"))
	i.HandleInput("s1")
	f.awaitSummary(t)

	require.Len(t, offered, 1)
	assert.Equal(t, pii.KindPhone, offered[0].Kind)
}

func TestRememberPublishesAllowlist(t *testing.T) {
	f := newFixture(t, SelectAll(true))
	sub := f.deps.Bus.Subscribe(4, bridge.AllowlistTopic)
	defer sub.Close()

	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	i.Attach(editor.NewMemorySurface("s1", "write to jane@corp.io"))
	i.HandleInput("s1")
	summary := f.awaitSummary(t)
	require.Len(t, summary.Redactions, 1)
	assert.True(t, summary.Redactions[0].Remember)

	select {
	case n := <-sub.C:
		values, err := allowlist.Decode(n.Marker.Payload)
		require.NoError(t, err)
		assert.Contains(t, values, "jane@corp.io")
		assert.Contains(t, values, allowlist.Key(pii.KindEmail, "jane@corp.io"))
	case <-time.After(2 * time.Second):
		t.Fatal("no allowlist notification")
	}
	assert.True(t, f.deps.Allowlist.Contains(pii.KindEmail, "JANE@corp.io"))
}

func TestUndoOfRememberedRedactionRestoresAllowlistEntry(t *testing.T) {
	f := newFixture(t, SelectAll(true))
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	surface := editor.NewMemorySurface("s1", "write to jane@corp.io")
	i.Attach(surface)
	i.HandleInput("s1")
	summary := f.awaitSummary(t)
	require.Len(t, summary.Redactions, 1)
	tok := summary.Redactions[0].Token

	f.deps.Allowlist.Replace(nil)
	require.False(t, f.deps.Allowlist.Contains(pii.KindEmail, "jane@corp.io"))

	require.NoError(t, i.Undo("s1", tok))
	undone := f.awaitSummary(t)
	assert.Empty(t, undone.Redactions)
	assert.Equal(t, "write to jane@corp.io", surface.Text())
	assert.True(t, f.deps.Allowlist.Contains(pii.KindEmail, "jane@corp.io"))

	_, ok := f.deps.Tokens.Original(tok)
	assert.False(t, ok)
}

// gatedDetector holds its first call until released; later calls answer at once.
type gatedDetector struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (d *gatedDetector) For(bool, string) detect.Detector { return d }

func (d *gatedDetector) Detect(ctx context.Context, text string) ([]pii.Entity, error) {
	if d.calls.Add(1) == 1 {
		close(d.started)
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return detect.Scan(text, detect.DefaultOptions()), nil
}

func outcomeCount(m *observability.Metrics, outcome string) int {
	for _, o := range m.SnapshotCycleStages().Outcomes {
		if o.Outcome == outcome {
			return o.Count
		}
	}
	return 0
}

func TestSupersededCycleResultIsDiscarded(t *testing.T) {
	var prompts atomic.Int32
	sel := SelectorFunc(func(ctx context.Context, p Prompt) (Selection, error) {
		prompts.Add(1)
		return SelectAll(false).Select(ctx, p)
	})
	f := newFixture(t, sel)
	gate := &gatedDetector{started: make(chan struct{}), release: make(chan struct{})}
	f.deps.Detectors = gate
	f.deps.Metrics = observability.NewMetrics("piiguard_test_interceptor_stale")
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)
	t.Cleanup(i.Close)

	surface := editor.NewMemorySurface("s1", "ping jane@corp.io")
	i.Attach(surface)
	i.HandleInput("s1")

	select {
	case <-gate.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the detector")
	}

	edited := "ping jane@corp.io or 91234567"
	surface.Type(edited, len(edited))
	i.HandleInput("s1")
	newer := f.awaitSummary(t)
	require.Len(t, newer.Redactions, 2)
	require.EqualValues(t, 1, prompts.Load())

	close(gate.release)
	require.Eventually(t, func() bool {
		return outcomeCount(f.deps.Metrics, "stale") == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 2, gate.calls.Load())
	assert.EqualValues(t, 1, prompts.Load(), "superseded cycle must not prompt")
	assert.Empty(t, f.summaries)
	assert.Len(t, pii.TokenSpans(surface.Text()), 2)
}

func TestPolicyNotificationTogglesHost(t *testing.T) {
	f := newFixture(t, SelectAll(false))
	i := New(testHost, time.Hour, localPolicy(), f.deps)
	i.Start()
	t.Cleanup(i.Close)
	require.True(t, i.Enabled())

	off := localPolicy()
	off.PerSite = map[string]policy.SiteOverride{testHost: {Enabled: false}}
	payload, err := bridge.EncodePayload(off)
	require.NoError(t, err)
	f.deps.Bus.Publish(bridge.PolicyTopic, payload)

	require.Eventually(t, func() bool { return !i.Enabled() }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, i.Policy().PerSite[testHost].Enabled)
}

func TestMalformedPolicyMarkerFallsBackToDefaults(t *testing.T) {
	got := PolicyFromMarker(bridge.Marker{Topic: bridge.PolicyTopic, Version: 3, Payload: "%%%"}, nil)
	assert.Equal(t, policy.Default(), got)

	got = PolicyFromMarker(bridge.Marker{Topic: bridge.PolicyTopic}, nil)
	assert.Equal(t, policy.Default(), got)
}

func TestWriteBackEchoDoesNotStartNewCycle(t *testing.T) {
	var calls atomic.Int32
	sel := SelectorFunc(func(_ context.Context, p Prompt) (Selection, error) {
		calls.Add(1)
		return SelectAll(false).Select(context.Background(), p)
	})
	f := newFixture(t, sel)
	i := New(testHost, 5*time.Millisecond, localPolicy(), f.deps)

	surface := editor.NewMemorySurface("s1", "ping jane@corp.io")
	surface.OnSetText = func(string) { i.HandleInput("s1") }
	i.Attach(surface)
	i.HandleInput("s1")
	f.awaitSummary(t)

	time.Sleep(40 * time.Millisecond)
	i.Close()
	assert.EqualValues(t, 1, calls.Load())
}

func TestHubRoutesByHostAndSeedsPolicyFromBus(t *testing.T) {
	f := newFixture(t, SelectAll(false))
	p := localPolicy()
	p.TargetHosts = append(p.TargetHosts, "internal.example")
	payload, err := bridge.EncodePayload(p)
	require.NoError(t, err)
	f.deps.Bus.Publish(bridge.PolicyTopic, payload)

	hub := NewHub(5*time.Millisecond, policy.Default(), f.deps)
	t.Cleanup(hub.Close)

	in, created, err := hub.Attach(editor.NewMemorySurface("s1", "hello"), "Internal.Example")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, in.Enabled())

	again, err := hub.ForSurface("s1")
	require.NoError(t, err)
	assert.Same(t, in, again)
	assert.Equal(t, []string{"internal.example"}, hub.Hosts())

	require.NoError(t, hub.HandleEvent("s1", controller.EventBlur))
	require.ErrorIs(t, hub.HandleEvent("missing", controller.EventBlur), editor.ErrNotFound)

	hub.Close()
	_, err = hub.ForHost("claude.ai")
	require.ErrorIs(t, err, ErrClosed)
}

func TestPromptPickIgnoresInvalidPositions(t *testing.T) {
	p := newPrompt("s1", testHost, []pii.Candidate{
		{Entity: pii.Entity{Label: pii.LabelEmail, Index: 0, Text: "a@b.co"}, Kind: pii.KindEmail},
		{Entity: pii.Entity{Label: pii.LabelPhone, Index: 2, Text: "91234567"}, Kind: pii.KindPhone},
	})
	got := p.Pick(Selection{Selected: []int{1, 1, -1, 7}})
	require.Len(t, got, 1)
	assert.Equal(t, pii.KindPhone, got[0].Kind)
	assert.NotEmpty(t, p.ID)
	assert.True(t, strings.Count(p.ID, "-") == 4)
}
