package main

import (
	"sync"
	"sync/atomic"
	"time"
)

type durationRing struct {
	buf   []time.Duration
	idx   int
	count int
}

func newDurationRing(n int) *durationRing {
	if n < 1 {
		n = 1
	}
	return &durationRing{buf: make([]time.Duration, n)}
}

func (r *durationRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx = (r.idx + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

type durationStats struct {
	last time.Duration
	max  time.Duration
	avg  time.Duration
	n    int
}

func (r *durationRing) snapshot() durationStats {
	if r.count == 0 {
		return durationStats{}
	}
	var sum, longest time.Duration
	for _, d := range r.buf[:r.count] {
		sum += d
		longest = max(longest, d)
	}
	lastIdx := r.idx - 1
	if lastIdx < 0 {
		lastIdx = len(r.buf) - 1
	}
	return durationStats{
		last: r.buf[lastIdx],
		max:  longest,
		avg:  sum / time.Duration(r.count),
		n:    r.count,
	}
}

// pipelineMetrics keeps the dashboard's own counters. Push and engine totals
// are read from their owners when a snapshot is taken.
type pipelineMetrics struct {
	enabled atomic.Bool

	pushes      atomic.Uint64
	firstPushNs atomic.Int64
	lastPushNs  atomic.Int64
	views       atomic.Uint64

	mu          sync.Mutex
	projections *durationRing
}

func newPipelineMetrics(window int) *pipelineMetrics {
	return &pipelineMetrics{projections: newDurationRing(window)}
}

func (m *pipelineMetrics) setEnabled(v bool) { m.enabled.Store(v) }
func (m *pipelineMetrics) isEnabled() bool   { return m.enabled.Load() }

func (m *pipelineMetrics) observePush(now time.Time) {
	if !m.isEnabled() {
		return
	}
	nowNs := now.UnixNano()
	m.firstPushNs.CompareAndSwap(0, nowNs)
	m.lastPushNs.Store(nowNs)
	m.pushes.Add(1)
}

func (m *pipelineMetrics) observeView(compute time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.views.Add(1)
	m.mu.Lock()
	m.projections.add(compute)
	m.mu.Unlock()
}

type metricsSnapshot struct {
	pushes     uint64
	avgRate    float64
	lastPush   time.Time
	views      uint64
	projection durationStats
}

func (m *pipelineMetrics) snapshot() metricsSnapshot {
	if !m.isEnabled() {
		return metricsSnapshot{}
	}
	pushes := m.pushes.Load()
	first, last := m.firstPushNs.Load(), m.lastPushNs.Load()

	var rate float64
	if first != 0 && last > first {
		rate = float64(pushes) / time.Duration(last-first).Seconds()
	}
	var lastPush time.Time
	if last != 0 {
		lastPush = time.Unix(0, last)
	}

	m.mu.Lock()
	projection := m.projections.snapshot()
	m.mu.Unlock()

	return metricsSnapshot{
		pushes:     pushes,
		avgRate:    rate,
		lastPush:   lastPush,
		views:      m.views.Load(),
		projection: projection,
	}
}
