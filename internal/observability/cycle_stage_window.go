package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

type CycleStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// CycleOutcomeCount is how many detection cycles ended with Outcome since start.
type CycleOutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

type CycleStageSnapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	WindowSize  int                 `json:"window_size"`
	Stages      []CycleStageStats   `json:"stages"`
	Outcomes    []CycleOutcomeCount `json:"outcomes,omitempty"`
}

// p95 budgets in milliseconds, reported next to the measured values.
var stageBudgetsMS = map[string]float64{
	"detect_local":  20,
	"detect_remote": 250,
	"apply":         10,
	"cycle_total":   400,
}

// sampleRing holds the newest samples of one stage, oldest overwritten first.
type sampleRing struct {
	buf  []float64
	size int
	pos  int
	last float64
}

func (r *sampleRing) push(v float64) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.last = v
}

func (r *sampleRing) stats(stage string) CycleStageStats {
	sorted := slices.Clone(r.buf[:r.size])
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return CycleStageStats{
		Stage:       stage,
		Samples:     r.size,
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(r.size)),
		P50MS:       round2(percentile(sorted, 0.50)),
		P95MS:       round2(percentile(sorted, 0.95)),
		P99MS:       round2(percentile(sorted, 0.99)),
		TargetP95MS: stageBudgetsMS[stage],
	}
}

// cycleStageWindow tracks recent per-stage latencies of detection cycles and
// a running count of cycle outcomes.
type cycleStageWindow struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*sampleRing
	outcomes map[string]int
}

func newCycleStageWindow(capacity int) *cycleStageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &cycleStageWindow{
		capacity: capacity,
		rings:    map[string]*sampleRing{},
		outcomes: map[string]int{},
	}
}

func (w *cycleStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &sampleRing{buf: make([]float64, w.capacity)}
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *cycleStageWindow) CountOutcome(outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[outcome]++
	w.mu.Unlock()
}

func (w *cycleStageWindow) Snapshot() CycleStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := CycleStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Stages:      make([]CycleStageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		if r := w.rings[stage]; r.size > 0 {
			snap.Stages = append(snap.Stages, r.stats(stage))
		}
	}
	for _, o := range sortedKeys(w.outcomes) {
		snap.Outcomes = append(snap.Outcomes, CycleOutcomeCount{Outcome: o, Count: w.outcomes[o]})
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
