package main

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/keilerkonzept/topk/heap"
	"github.com/keilerkonzept/topk/sliding"
)

// IncrementalRanker keeps the leaderboard of the most active sensors. A full
// re-sort from the sketch happens every fullRefresh; in between only the
// counts of the first partialSize entries are refreshed and re-sorted.
type IncrementalRanker struct {
	k           int
	fullRefresh time.Duration
	partialSize int

	lastFullRefresh time.Time
	items           []heap.Item
}

func NewIncrementalRanker(k int, fullRefresh time.Duration, partialSize int) *IncrementalRanker {
	return &IncrementalRanker{
		k:           max(1, k),
		fullRefresh: max(0, fullRefresh),
		partialSize: max(0, partialSize),
	}
}

// Refresh returns the current leaderboard. sortedFn returns a full sorted
// view; updateCountsFn refreshes the counts of the first limit items in place.
func (r *IncrementalRanker) Refresh(now time.Time, sortedFn func() []heap.Item, updateCountsFn func(items []heap.Item, limit int)) (items []heap.Item, didFull bool) {
	needFull := len(r.items) == 0 ||
		r.fullRefresh == 0 ||
		now.Sub(r.lastFullRefresh) >= r.fullRefresh
	if needFull {
		r.items = sortedFn()
		if len(r.items) > r.k {
			r.items = r.items[:r.k]
		}
		r.lastFullRefresh = now
		return cloneItems(r.items), true
	}

	limit := len(r.items)
	if r.partialSize > 0 && r.partialSize < limit {
		limit = r.partialSize
	}
	updateCountsFn(r.items, limit)
	sort.SliceStable(r.items[:limit], func(i, j int) bool {
		li, lj := r.items[i], r.items[j]
		if li.Count != lj.Count {
			return li.Count > lj.Count
		}
		return li.Item < lj.Item
	})
	return cloneItems(r.items), false
}

func cloneItems(in []heap.Item) []heap.Item {
	out := make([]heap.Item, len(in))
	copy(out, in)
	return out
}

// activityTracker counts admitted push readings per sensor over a sliding
// window.
type activityTracker struct {
	mu       sync.Mutex
	sketch   *sliding.Sketch
	ranker   *IncrementalRanker
	lastTick time.Time
	tick     time.Duration
}

func newActivityTracker() *activityTracker {
	return &activityTracker{
		sketch: sliding.New(config.K,
			int(config.WindowSize/config.TickSize),
			sliding.WithWidth(config.Width),
			sliding.WithDepth(config.Depth),
			sliding.WithDecay(float32(config.Decay)),
		),
		ranker: NewIncrementalRanker(config.K, config.FullRefresh, config.PartialSize),
		tick:   config.TickSize,
	}
}

func sensorKey(id int64) string { return strconv.FormatInt(id, 10) }

func (a *activityTracker) observe(sensorID int64) {
	a.mu.Lock()
	a.sketch.Incr(sensorKey(sensorID))
	a.mu.Unlock()
}

func (a *activityTracker) count(sensorID int64) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sketch.Count(sensorKey(sensorID))
}

// advance moves the window forward to now in whole ticks.
func (a *activityTracker) advance(now time.Time) {
	t := now.Truncate(a.tick)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastTick.IsZero() {
		a.lastTick = t
		return
	}
	if ticks := int(t.Sub(a.lastTick) / a.tick); ticks > 0 {
		a.sketch.Ticks(ticks)
		a.lastTick = t
	}
}

// leaderboard advances the window and returns the most active sensors.
func (a *activityTracker) leaderboard(now time.Time) []heap.Item {
	a.advance(now)
	a.mu.Lock()
	defer a.mu.Unlock()
	items, _ := a.ranker.Refresh(now,
		func() []heap.Item { return a.sketch.SortedSlice() },
		func(items []heap.Item, limit int) {
			for i := range limit {
				items[i].Count = a.sketch.Count(items[i].Item)
			}
		},
	)
	live := items[:0]
	for _, it := range items {
		if it.Count > 0 {
			live = append(live, it)
		}
	}
	return live
}
