package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Callback stages timed by the call flow engine.
const (
	StageFetch      = "recording_fetch"
	StageTranscribe = "transcribe"
	StageLedger     = "ledger_lookup"
	StageAgent      = "agent_reply"
	StageSynthesize = "synthesize"
	StageTotal      = "callback_total"
)

// Twilio abandons a webhook after 15s. Each stage gets a share of that.
var stageBudgets = map[string]time.Duration{
	StageFetch:      800 * time.Millisecond,
	StageTranscribe: 2 * time.Second,
	StageLedger:     time.Second,
	StageAgent:      4 * time.Second,
	StageSynthesize: 2500 * time.Millisecond,
	StageTotal:      9 * time.Second,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// durationRing keeps the most recent len(buf) samples of one stage.
type durationRing struct {
	buf   []time.Duration
	count int
	last  time.Duration
}

func (r *durationRing) push(d time.Duration) {
	r.buf[r.count%len(r.buf)] = d
	r.count++
	r.last = d
}

func (r *durationRing) sorted() []time.Duration {
	n := min(r.count, len(r.buf))
	out := slices.Clone(r.buf[:n])
	slices.Sort(out)
	return out
}

// latencyWindow holds per-stage latency rings and event counts for the
// /v1/perf/latency report. Prometheus keeps the long-term view.
type latencyWindow struct {
	size int

	mu     sync.Mutex
	rings  map[string]*durationRing
	events map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:   size,
		rings:  make(map[string]*durationRing),
		events: make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &durationRing{buf: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.push(d)
}

func (w *latencyWindow) count(event string) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	w.mu.Lock()
	w.events[event]++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot(now time.Time) StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: now.UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		r := w.rings[stage]
		samples := r.sorted()
		var sum time.Duration
		for _, d := range samples {
			sum += d
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      millis(r.last),
			AvgMS:       millis(sum / time.Duration(len(samples))),
			P50MS:       millis(nearestRank(samples, 0.50)),
			P95MS:       millis(nearestRank(samples, 0.95)),
			P99MS:       millis(nearestRank(samples, 0.99)),
			TargetP95MS: millis(stageBudgets[stage]),
		})
	}
	for _, name := range slices.Sorted(maps.Keys(w.events)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.events[name]})
	}
	return snap
}

// nearestRank returns the smallest sample with at least p of the samples at
// or below it. samples must be sorted and non-empty.
func nearestRank(samples []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(samples))))
	return samples[max(rank, 1)-1]
}

// millis converts d to milliseconds rounded to two decimals.
func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
