package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []uint64
	ch    chan uint64
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan uint64, 16)}
}

func (r *recorder) run(_ context.Context, _ string, seq uint64) error {
	r.mu.Lock()
	r.calls = append(r.calls, seq)
	r.mu.Unlock()
	r.ch <- seq
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) wait(t *testing.T) uint64 {
	t.Helper()
	select {
	case seq := <-r.ch:
		return seq
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cycle")
		return 0
	}
}

func TestDebounceCollapsesBurst(t *testing.T) {
	rec := newRecorder()
	c := New(40*time.Millisecond, rec.run, nil)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Notify("s1", EventInput)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, PhasePending, c.Phase("s1"))

	seq := rec.wait(t)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.True(t, c.IsCurrent(seq))
	assert.Equal(t, PhaseIdle, c.Phase("s1"))
}

func TestCompositionHoldsDetection(t *testing.T) {
	rec := newRecorder()
	c := New(20*time.Millisecond, rec.run, nil)
	defer c.Close()

	c.Notify("s1", EventInput)
	c.Notify("s1", EventCompositionStart)
	c.Notify("s1", EventInput)
	c.Notify("s1", EventBlur)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.count(), "no cycle while composing")
	assert.Equal(t, PhaseIdle, c.Phase("s1"))

	started := time.Now()
	c.Notify("s1", EventCompositionEnd)
	rec.wait(t)
	assert.Less(t, time.Since(started), 20*time.Millisecond+50*time.Millisecond)
}

func TestNewerCycleMakesOlderStale(t *testing.T) {
	rec := newRecorder()
	c := New(10*time.Millisecond, rec.run, nil)
	defer c.Close()

	c.Notify("s1", EventInput)
	first := rec.wait(t)
	c.Notify("s2", EventPaste)
	second := rec.wait(t)

	assert.Greater(t, second, first)
	assert.False(t, c.IsCurrent(first))
	assert.True(t, c.IsCurrent(second))
}

func TestSuppressNextBlurOnce(t *testing.T) {
	rec := newRecorder()
	c := New(10*time.Millisecond, rec.run, nil)
	defer c.Close()

	c.SuppressNextBlur("s1")
	c.Notify("s1", EventBlur)
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, rec.count())

	c.Notify("s1", EventBlur)
	rec.wait(t)
}

func TestErrorsAndPanicsReturnToIdle(t *testing.T) {
	calls := make(chan struct{}, 4)
	n := 0
	c := New(5*time.Millisecond, func(context.Context, string, uint64) error {
		n++
		calls <- struct{}{}
		if n == 1 {
			panic("boom")
		}
		return errors.New("detector down")
	}, nil)
	defer c.Close()

	for i := 0; i < 2; i++ {
		c.Notify("s1", EventSubmit)
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for cycle")
		}
		require.Eventually(t, func() bool { return c.Phase("s1") == PhaseIdle }, time.Second, 5*time.Millisecond)
	}
}

func TestForgetAndCloseStopTimers(t *testing.T) {
	rec := newRecorder()
	c := New(20*time.Millisecond, rec.run, nil)

	c.Notify("s1", EventInput)
	c.Forget("s1")
	c.Notify("s2", EventInput)
	c.Close()
	c.Notify("s3", EventInput)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestParseEvent(t *testing.T) {
	ev, ok := ParseEvent("composition_end")
	require.True(t, ok)
	assert.Equal(t, EventCompositionEnd, ev)
	_, ok = ParseEvent("keydown")
	assert.False(t, ok)
}
