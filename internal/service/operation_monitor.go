package service

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SlowOperation is the latency above which an operation counts as slow
const SlowOperation = 250 * time.Millisecond

// OperationMonitor keeps latency samples and error counts per ledger operation
type OperationMonitor struct {
	mu         sync.RWMutex
	ops        map[string]*opSamples
	maxSamples int
}

type opSamples struct {
	durations []time.Duration
	total     int64
	errors    int64
	slow      int64
	cached    int64
}

// NewOperationMonitor creates a monitor keeping the last 1000 samples per operation
func NewOperationMonitor() *OperationMonitor {
	return &OperationMonitor{
		ops:        make(map[string]*opSamples),
		maxSamples: 1000,
	}
}

func (m *OperationMonitor) samples(op string) *opSamples {
	s, ok := m.ops[op]
	if !ok {
		s = &opSamples{durations: make([]time.Duration, 0, 64)}
		m.ops[op] = s
	}
	return s
}

// Record adds one execution of op
func (m *OperationMonitor) Record(op string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.samples(op)
	s.total++
	if err != nil {
		s.errors++
	}
	if d > SlowOperation {
		s.slow++
	}
	s.durations = append(s.durations, d)
	if len(s.durations) > m.maxSamples {
		s.durations = s.durations[len(s.durations)-m.maxSamples:]
	}
}

// RecordCached adds one execution of op served from the cache
func (m *OperationMonitor) RecordCached(op string, d time.Duration) {
	m.Record(op, d, nil)
	m.mu.Lock()
	m.ops[op].cached++
	m.mu.Unlock()
}

// OperationStats summarizes one operation
type OperationStats struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	Slow      int64   `json:"slow"`
	Cached    int64   `json:"cached,omitempty"`
	ErrorRate float64 `json:"errorRate"` // Percentage
	AvgMs     float64 `json:"avgMs"`
	P95Ms     float64 `json:"p95Ms"`
	P99Ms     float64 `json:"p99Ms"`
}

// Stats returns statistics per operation
func (m *OperationMonitor) Stats() map[string]OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]OperationStats, len(m.ops))
	for op, s := range m.ops {
		st := OperationStats{Total: s.total, Errors: s.errors, Slow: s.slow, Cached: s.cached}
		if s.total > 0 {
			st.ErrorRate = float64(s.errors) / float64(s.total) * 100
		}
		if n := len(s.durations); n > 0 {
			sorted := make([]time.Duration, n)
			copy(sorted, s.durations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var sum time.Duration
			for _, d := range sorted {
				sum += d
			}
			st.AvgMs = ms(sum) / float64(n)
			st.P95Ms = ms(sorted[percentileIndex(n, 0.95)])
			st.P99Ms = ms(sorted[percentileIndex(n, 0.99)])
		}
		out[op] = st
	}
	return out
}

// Check lists operations whose error rate or tail latency looks unhealthy
func (m *OperationMonitor) Check() []string {
	var issues []string
	for op, st := range m.Stats() {
		if st.Total >= 20 && st.ErrorRate > 10 {
			issues = append(issues, fmt.Sprintf("%s error rate %.1f%% above 10%%", op, st.ErrorRate))
		}
		if st.P95Ms > ms(SlowOperation) {
			issues = append(issues, fmt.Sprintf("%s p95 latency %.0fms above %s", op, st.P95Ms, SlowOperation))
		}
	}
	sort.Strings(issues)
	return issues
}

// Reset drops all samples
func (m *OperationMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = make(map[string]*opSamples)
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
