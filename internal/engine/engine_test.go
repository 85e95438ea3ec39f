package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/engine"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/export"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/observe"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/store"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock/wallclocktest"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func rd(id int64, ts time.Time, temp float64) reading.Reading {
	return reading.Reading{SensorID: id, Timestamp: ts, Temperature: temp, Humidity: 50}
}

type call struct {
	rs   []reading.Reading
	err  error
	gate chan struct{}
}

// fetcher answers calls in order; a call with a gate blocks until it closes.
type fetcher struct {
	mu    sync.Mutex
	calls []*call
	n     int
	lastN int
}

func (f *fetcher) next() *call {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[f.n]
	f.n++
	return c
}

func (f *fetcher) answer(ctx context.Context) ([]reading.Reading, error) {
	c := f.next()
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.rs, c.err
}

func (f *fetcher) FetchAll(ctx context.Context) ([]reading.Reading, error) { return f.answer(ctx) }

func (f *fetcher) FetchLatest(ctx context.Context, n int) ([]reading.Reading, error) {
	f.mu.Lock()
	f.lastN = n
	f.mu.Unlock()
	return f.answer(ctx)
}

type pusher struct {
	status   *observe.Cell[bool]
	requests []string
}

func newPusher() *pusher { return &pusher{status: observe.NewCell(false)} }

func (p *pusher) Status() *observe.Cell[bool] { return p.status }

func (p *pusher) RequestLatest(context.Context) bool {
	if !p.status.Get() {
		return false
	}
	p.requests = append(p.requests, "latest")
	return true
}

func (p *pusher) RequestHistory(context.Context) bool {
	if !p.status.Get() {
		return false
	}
	p.requests = append(p.requests, "history")
	return true
}

func newEngine(t *testing.T, f *fetcher, p *pusher) (*engine.Engine, *wallclocktest.Fake) {
	t.Helper()
	clock := wallclocktest.NewFake(start)
	opts := engine.Options{
		Store:    store.Options{Capacity: 5},
		Location: time.UTC,
		Clock:    clock,
	}
	if f != nil {
		opts.Fetcher = f
	}
	if p != nil {
		opts.Push = p
	}
	e := engine.New(opts)
	t.Cleanup(e.Close)
	return e, clock
}

func TestLoadInstallsServerOrder(t *testing.T) {
	rs := []reading.Reading{rd(1, at(2, 10), 20), rd(2, at(1, 10), 21)}
	f := &fetcher{calls: []*call{{rs: rs}}}
	e, _ := newEngine(t, f, nil)

	require.NoError(t, e.Load(context.Background()))

	v := e.Snapshot()
	require.Equal(t, rs, v.Filtered)
	require.Equal(t, 2, v.Total)
	require.False(t, v.Loading)
	require.Empty(t, v.Error)
	require.Equal(t, []float64{21, 20}, v.Series.Temperature)
	require.Equal(t, int64(2), v.Export[0].SensorID)
	require.Equal(t, e.CurrentFilteredReadings(), v.Filtered)
	require.True(t, e.CurrentChartSeries().Equal(v.Series))
}

func TestLoadLatestPassesCount(t *testing.T) {
	f := &fetcher{calls: []*call{{rs: []reading.Reading{rd(1, at(2, 10), 20)}}}}
	e, _ := newEngine(t, f, nil)

	require.NoError(t, e.LoadLatest(context.Background(), 10))
	require.Equal(t, 10, f.lastN)
	require.Len(t, e.Snapshot().Filtered, 1)
}

func TestLoadFailureSetsError(t *testing.T) {
	rs := []reading.Reading{rd(1, at(2, 10), 20)}
	f := &fetcher{calls: []*call{{rs: rs}, {err: errors.New("connection refused")}}}
	e, _ := newEngine(t, f, nil)

	require.NoError(t, e.Load(context.Background()))
	require.Error(t, e.Load(context.Background()))

	v := e.Snapshot()
	require.Equal(t, engine.LoadFailedMessage, v.Error)
	require.False(t, v.Loading)
	require.Equal(t, rs, v.Filtered)
}

func TestLoadingVisibleWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	f := &fetcher{calls: []*call{{gate: gate}}}
	e, _ := newEngine(t, f, nil)

	done := make(chan error, 1)
	go func() { done <- e.Load(context.Background()) }()

	require.Eventually(t, func() bool { return e.Snapshot().Loading }, time.Second, time.Millisecond)
	close(gate)
	require.NoError(t, <-done)
	require.False(t, e.Snapshot().Loading)
}

func TestLastRequestWins(t *testing.T) {
	older := []reading.Reading{rd(1, at(1, 10), 1)}
	newer := []reading.Reading{rd(2, at(2, 10), 2)}
	gate := make(chan struct{})
	f := &fetcher{calls: []*call{{rs: older, gate: gate}, {rs: newer}}}
	e, _ := newEngine(t, f, nil)

	slow := make(chan error, 1)
	go func() { slow <- e.Load(context.Background()) }()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.n == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Load(context.Background()))
	close(gate)

	require.ErrorIs(t, <-slow, engine.ErrStale)
	v := e.Snapshot()
	require.Equal(t, newer, v.Filtered)
	require.False(t, v.Loading)
	require.Equal(t, uint64(1), e.Stats().Stale)
}

func TestAdmitPrependsHighlightsAndDedups(t *testing.T) {
	f := &fetcher{calls: []*call{{rs: []reading.Reading{rd(1, at(1, 10), 20)}}}}
	var admitted []reading.Reading
	clock := wallclocktest.NewFake(start)
	e := engine.New(engine.Options{
		Fetcher:  f,
		Location: time.UTC,
		Clock:    clock,
		OnAdmit:  func(r reading.Reading) { admitted = append(admitted, r) },
	})
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))

	pushed := rd(7, at(1, 11), 25)
	require.True(t, e.Admit(pushed))
	require.False(t, e.Admit(pushed))

	v := e.Snapshot()
	require.Equal(t, pushed, v.Filtered[0])
	require.Len(t, v.Filtered, 2)
	require.True(t, v.Rows[0].New)
	require.False(t, v.Rows[1].New)
	require.True(t, e.IsHighlighted(7))
	require.Equal(t, start, e.LastUpdateTime())
	require.Equal(t, []reading.Reading{pushed}, admitted)
	require.Equal(t, engine.Stats{Admitted: 1, Duplicates: 1, Recomputes: e.Stats().Recomputes}, e.Stats())

	clock.Advance(3 * time.Second)
	require.False(t, e.IsHighlighted(7))
	require.False(t, e.Snapshot().Rows[0].New)
}

func TestFilterRecomputesOnStoreAndCriteria(t *testing.T) {
	rs := []reading.Reading{rd(1, at(1, 10), 20), rd(2, at(2, 10), 21)}
	f := &fetcher{calls: []*call{{rs: rs}}}
	e, _ := newEngine(t, f, nil)
	require.NoError(t, e.Load(context.Background()))

	require.NoError(t, e.SetFilter(filter.Criteria{StartDate: "2024-01-02"}))
	require.Equal(t, []reading.Reading{rs[1]}, e.Snapshot().Filtered)
	require.Equal(t, 2, e.Snapshot().Total)

	e.Admit(rd(3, at(1, 23), 22))
	require.Equal(t, []reading.Reading{rs[1]}, e.Snapshot().Filtered)
	e.Admit(rd(4, at(3, 1), 23))
	require.Len(t, e.Snapshot().Filtered, 2)

	e.ClearFilter()
	require.Len(t, e.Snapshot().Filtered, 4)
	require.True(t, e.Snapshot().Criteria.IsZero())
}

func TestInvalidFilterKeepsPrevious(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	prev := filter.Criteria{StartDate: "2024-01-02"}
	require.NoError(t, e.SetFilter(prev))

	err := e.SetFilter(filter.Criteria{StartTime: "10:00"})
	require.ErrorIs(t, err, filter.ErrTimeWithoutDate)
	require.Equal(t, prev, e.Criteria())
	require.Equal(t, prev, e.Snapshot().Criteria)
}

func TestInvertedRangeYieldsEmptyView(t *testing.T) {
	rs := []reading.Reading{rd(1, at(1, 10), 20), rd(2, at(2, 10), 21)}
	f := &fetcher{calls: []*call{{rs: rs}}}
	e, _ := newEngine(t, f, nil)
	require.NoError(t, e.Load(context.Background()))

	c := filter.Criteria{StartDate: "2024-01-02", EndDate: "2024-01-01"}
	require.NoError(t, e.SetFilter(c))

	v := e.Snapshot()
	require.Equal(t, c, v.Criteria)
	require.Empty(t, v.Filtered)
	require.Empty(t, v.Rows)
	require.Zero(t, v.Series.Len())
	require.Equal(t, 2, v.Total)
}

func TestLoadThenPushDuplicateThenNewReading(t *testing.T) {
	rs := make([]reading.Reading, 5)
	for i := range rs {
		rs[i] = rd(int64(i+1), at(1, 10+i), 20+float64(i))
	}
	f := &fetcher{calls: []*call{{rs: rs}}}
	clock := wallclocktest.NewFake(start)
	e := engine.New(engine.Options{Fetcher: f, Location: time.UTC, Clock: clock})
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))
	require.Len(t, e.CurrentFilteredReadings(), 5)

	dup := rs[2]
	dup.Temperature = -5
	require.False(t, e.Admit(dup))
	v := e.Snapshot()
	require.Len(t, v.Filtered, 5)
	require.Empty(t, v.Highlighted)

	fresh := rd(9, at(1, 20), 30)
	require.True(t, e.Admit(fresh))
	v = e.Snapshot()
	require.Len(t, v.Filtered, 6)
	require.Equal(t, fresh, v.Filtered[0])
	require.True(t, e.IsHighlighted(9))
	require.True(t, v.Rows[0].New)

	clock.Advance(3 * time.Second)
	require.False(t, e.IsHighlighted(9))
	require.Empty(t, e.Snapshot().Highlighted)
	require.Len(t, e.Snapshot().Filtered, 6)
}

func TestConnectionStatusFlowsIntoView(t *testing.T) {
	p := newPusher()
	e, _ := newEngine(t, nil, p)
	require.False(t, e.ConnectionStatus())
	require.False(t, e.RequestLatest(context.Background()))

	p.status.Set(true)
	require.True(t, e.ConnectionStatus())
	require.True(t, e.Snapshot().Connected)
	require.True(t, e.RequestLatest(context.Background()))
	require.True(t, e.RequestHistory(context.Background()))
	require.Equal(t, []string{"latest", "history"}, p.requests)

	p.status.Set(false)
	require.False(t, e.Snapshot().Connected)
}

func TestNoFetcher(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	require.ErrorIs(t, e.Load(context.Background()), engine.ErrNoFetcher)
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	e, _ := newEngine(t, nil, nil)

	var versions []uint64
	cancel := e.Subscribe(func(v *engine.View) { versions = append(versions, v.Version) })
	e.Admit(rd(1, at(1, 1), 1))
	e.Admit(rd(2, at(1, 2), 1))
	cancel()
	e.Admit(rd(3, at(1, 3), 1))

	require.Len(t, versions, 3)
	require.Less(t, versions[0], versions[1])
	require.Less(t, versions[1], versions[2])
}

func TestExport(t *testing.T) {
	e, clock := newEngine(t, nil, nil)
	e.Admit(rd(2, at(2, 10), 21))
	e.Admit(rd(1, at(1, 10), 20.5))

	dir := t.TempDir()
	name := filepath.Join(dir, "readings.csv")
	require.NoError(t, e.ExportCSV(name))

	b, err := os.ReadFile(name)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[1], "1,"))
	require.True(t, strings.HasPrefix(lines[2], "2,"))

	other := filepath.Join(dir, "subset.csv")
	require.NoError(t, e.ExportRowsCSV(e.Snapshot().Export[:1], other))
	b, err = os.ReadFile(other)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(b)), "\n"), 2)

	paths, err := e.Export(dir, export.CSV, export.JSON)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, export.FileName(clock.Now(), export.JSON)), paths[1])
}
