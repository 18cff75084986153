package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// StageLatency summarises the recent samples of one stage in milliseconds.
type StageLatency struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	MeanMS      float64 `json:"mean_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
	OverBudget  bool    `json:"over_budget"`
}

type LatencyReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	SamplesPerStage int            `json:"samples_per_stage"`
	Stages          []StageLatency `json:"stages"`
}

// latencyTracker holds the most recent samples of each declared stage.
// Samples for stages nobody declared are dropped.
type latencyTracker struct {
	mu       sync.Mutex
	capacity int
	order    []string
	series   map[string]*series
}

type series struct {
	budget time.Duration
	ring   []time.Duration
	seen   int
}

func newLatencyTracker(capacity int) *latencyTracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &latencyTracker{capacity: capacity, series: make(map[string]*series)}
}

// declare registers stage with its p95 budget. Redeclaring only updates the
// budget.
func (t *latencyTracker) declare(stage string, budget time.Duration) {
	if stage == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.series[stage]; ok {
		s.budget = budget
		return
	}
	t.order = append(t.order, stage)
	t.series[stage] = &series{budget: budget, ring: make([]time.Duration, t.capacity)}
}

func (t *latencyTracker) observe(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.series[stage]
	if !ok {
		return
	}
	s.ring[s.seen%len(s.ring)] = d
	s.seen++
}

func (t *latencyTracker) report() LatencyReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := LatencyReport{
		GeneratedAt:     time.Now().UTC(),
		SamplesPerStage: t.capacity,
		Stages:          make([]StageLatency, 0, len(t.order)),
	}
	for _, stage := range t.order {
		s := t.series[stage]
		if s.seen == 0 {
			continue
		}
		out.Stages = append(out.Stages, s.summary(stage))
	}
	return out
}

func (s *series) summary(stage string) StageLatency {
	n := min(s.seen, len(s.ring))
	sorted := slices.Clone(s.ring[:n])
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	p95 := nearestRank(sorted, 0.95)
	return StageLatency{
		Stage:       stage,
		Samples:     n,
		LastMS:      millis(s.ring[(s.seen-1)%len(s.ring)]),
		MeanMS:      millis(sum / time.Duration(n)),
		P50MS:       millis(nearestRank(sorted, 0.50)),
		P95MS:       millis(p95),
		P99MS:       millis(nearestRank(sorted, 0.99)),
		BudgetP95MS: millis(s.budget),
		OverBudget:  s.budget > 0 && p95 > s.budget,
	}
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
