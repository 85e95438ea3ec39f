// Package engine reconciles the pulled and pushed reading streams into one
// canonical set and derives every presentation from it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/export"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/observe"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/project"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/store"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock"
)

// LoadFailedMessage is the user-facing text of a failed query.
const LoadFailedMessage = "Failed to load sensor data"

var (
	// ErrStale is returned by a load that completed after a newer one began.
	// Its result is discarded.
	ErrStale = errors.New("engine: load superseded by a newer request")

	ErrNoFetcher = errors.New("engine: no query client configured")
)

// Fetcher is the request/response collaborator.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]reading.Reading, error)
	FetchLatest(ctx context.Context, n int) ([]reading.Reading, error)
}

// Pusher is the push-channel collaborator.
type Pusher interface {
	Status() *observe.Cell[bool]
	RequestLatest(ctx context.Context) bool
	RequestHistory(ctx context.Context) bool
}

type Options struct {
	Store   store.Options
	Fetcher Fetcher
	Push    Pusher

	// Location interprets filter dates and times. Defaults to time.Local.
	Location *time.Location

	// OnAdmit is called for every push reading admitted to the store.
	OnAdmit func(reading.Reading)

	Clock  wallclock.WallClock
	Logger *slog.Logger
}

type Stats struct {
	Admitted   uint64
	Duplicates uint64
	Recomputes uint64
	Stale      uint64
}

// Engine is safe for concurrent use. Recomputation is serialised; views are
// published in version order and an older view never replaces a newer one.
//
// View subscribers run synchronously on the goroutine that caused the change
// and must not call back into the Engine.
type Engine struct {
	store   *store.Store
	fetch   Fetcher
	push    Pusher
	loc     *time.Location
	onAdmit func(reading.Reading)
	clock   wallclock.WallClock
	log     *slog.Logger

	mu        sync.Mutex
	criteria  filter.Criteria
	loading   bool
	errMsg    string
	connected bool
	gen       uint64
	version   uint64

	// Held from a load's staleness check until its result is installed.
	commitMu sync.Mutex

	view    *observe.Cell[*View]
	cancels []func()

	admitted   atomic.Uint64
	duplicates atomic.Uint64
	recomputes atomic.Uint64
	stale      atomic.Uint64
}

func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	clock := wallclock.OrSystem(opts.Clock)
	storeOpts := opts.Store
	if storeOpts.Clock == nil {
		storeOpts.Clock = clock
	}
	if storeOpts.Logger == nil {
		storeOpts.Logger = log
	}

	e := &Engine{
		store:   store.New(storeOpts),
		fetch:   opts.Fetcher,
		push:    opts.Push,
		loc:     loc,
		onAdmit: opts.OnAdmit,
		clock:   clock,
		log:     log,
		view:    observe.NewCell(&View{Highlighted: map[int64]bool{}}),
	}
	e.recompute()
	e.cancels = append(e.cancels, e.store.Subscribe(e.recompute))
	if e.push != nil {
		e.cancels = append(e.cancels, e.push.Status().Subscribe(e.setConnected))
	}
	return e
}

// Close detaches the engine from the store and the push status.
func (e *Engine) Close() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
}

// Subscribe calls fn with the current view and then with every newer one.
func (e *Engine) Subscribe(fn func(*View)) (cancel func()) {
	return e.view.Subscribe(fn)
}

// Snapshot returns the latest published view.
func (e *Engine) Snapshot() *View { return e.view.Get() }

func (e *Engine) CurrentFilteredReadings() []reading.Reading { return e.Snapshot().Filtered }

func (e *Engine) CurrentChartSeries() project.Series { return e.Snapshot().Series }

func (e *Engine) IsHighlighted(sensorID int64) bool { return e.store.IsHighlighted(sensorID) }

func (e *Engine) ConnectionStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// LastUpdateTime is the arrival time of the last admitted push reading.
func (e *Engine) LastUpdateTime() time.Time { return e.store.LastUpdate() }

func (e *Engine) Criteria() filter.Criteria {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.criteria
}

func (e *Engine) Capacity() int { return e.store.Capacity() }

func (e *Engine) Stats() Stats {
	return Stats{
		Admitted:   e.admitted.Load(),
		Duplicates: e.duplicates.Load(),
		Recomputes: e.recomputes.Load(),
		Stale:      e.stale.Load(),
	}
}

// Load replaces the canonical set with every stored reading.
func (e *Engine) Load(ctx context.Context) error {
	return e.load(ctx, "all", func(ctx context.Context) ([]reading.Reading, error) {
		return e.fetch.FetchAll(ctx)
	})
}

// LoadLatest replaces the canonical set with the n newest readings.
func (e *Engine) LoadLatest(ctx context.Context, n int) error {
	return e.load(ctx, fmt.Sprintf("latest %d", n), func(ctx context.Context) ([]reading.Reading, error) {
		return e.fetch.FetchLatest(ctx, n)
	})
}

// load marks the engine loading, runs fetch and installs its result unless a
// newer load started meanwhile. A failure sets the view error and leaves the
// canonical set untouched.
func (e *Engine) load(ctx context.Context, what string, fetch func(context.Context) ([]reading.Reading, error)) error {
	if e.fetch == nil {
		return ErrNoFetcher
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.loading = true
	e.mu.Unlock()
	e.recompute()

	log := e.log.With(slog.String("load", what), slog.Uint64("generation", gen))
	log.Debug("load started")
	rs, err := fetch(ctx)

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.stale.Add(1)
		log.Info("discarding superseded load", slog.Bool("failed", err != nil))
		return ErrStale
	}
	e.loading = false
	if err != nil {
		e.errMsg = LoadFailedMessage
	} else {
		e.errMsg = ""
	}
	e.mu.Unlock()

	if err != nil {
		log.Error("load failed", slog.String("error", err.Error()))
		e.recompute()
		return fmt.Errorf("load %s: %w", what, err)
	}
	log.Info("load complete", slog.Int("readings", len(rs)))
	e.store.ReplaceAll(rs)
	return nil
}

// Admit offers a pushed reading. Duplicates are ignored silently.
func (e *Engine) Admit(r reading.Reading) bool {
	if !e.store.Admit(r) {
		e.duplicates.Add(1)
		return false
	}
	e.admitted.Add(1)
	if e.onAdmit != nil {
		e.onAdmit(r)
	}
	return true
}

// SetFilter replaces the criteria wholesale. Invalid criteria are rejected
// and the previous criteria stay active.
func (e *Engine) SetFilter(c filter.Criteria) error {
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.criteria = c
	e.mu.Unlock()
	e.log.Debug("filter set", slog.String("criteria", c.String()))
	e.recompute()
	return nil
}

func (e *Engine) ClearFilter() {
	e.mu.Lock()
	e.criteria = filter.Criteria{}
	e.mu.Unlock()
	e.recompute()
}

// ExportCSV writes the current export rows to filename.
func (e *Engine) ExportCSV(filename string) error {
	return e.ExportRowsCSV(e.Snapshot().Export, filename)
}

// ExportRowsCSV writes rows to filename as CSV.
func (e *Engine) ExportRowsCSV(rows []project.ExportRow, filename string) error {
	if err := export.WriteFile(filename, export.CSV, rows); err != nil {
		return err
	}
	e.log.Info("exported readings", slog.Int("rows", len(rows)), slog.String("file", filename))
	return nil
}

// Export writes the current export rows into dir, one file per format, and
// returns the written paths.
func (e *Engine) Export(dir string, formats ...export.Format) ([]string, error) {
	rows := e.Snapshot().Export
	paths, err := export.WriteFiles(dir, e.clock.Now(), rows, formats...)
	if err != nil {
		return paths, err
	}
	e.log.Info("exported readings", slog.Int("rows", len(rows)), slog.Any("files", paths))
	return paths, nil
}

// RequestLatest forwards to the push channel; it is a no-op when
// disconnected.
func (e *Engine) RequestLatest(ctx context.Context) bool {
	return e.push != nil && e.push.RequestLatest(ctx)
}

func (e *Engine) RequestHistory(ctx context.Context) bool {
	return e.push != nil && e.push.RequestHistory(ctx)
}

func (e *Engine) setConnected(connected bool) {
	e.mu.Lock()
	changed := e.connected != connected
	e.connected = connected
	e.mu.Unlock()
	if changed {
		e.recompute()
	}
}

func (e *Engine) recompute() {
	start := time.Now()

	e.mu.Lock()
	snap := e.store.Snapshot()
	filtered, err := filter.Apply(snap.Readings, e.criteria, e.loc)
	if err != nil {
		// Criteria are validated on entry; keep the view total regardless.
		e.log.Warn("filter failed; showing unfiltered readings", slog.String("error", err.Error()))
		filtered = snap.Readings
	}
	e.version++
	v := &View{
		Filtered:    filtered,
		Series:      project.ChartSeries(filtered),
		Rows:        project.Rows(filtered, func(id int64) bool { return snap.Highlighted[id] }),
		Export:      project.ExportRows(filtered),
		Criteria:    e.criteria,
		Highlighted: snap.Highlighted,
		Total:       len(snap.Readings),
		LastUpdate:  snap.LastUpdate,
		Loading:     e.loading,
		Error:       e.errMsg,
		Connected:   e.connected,
		Version:     e.version,
	}
	e.mu.Unlock()

	v.ComputeTime = time.Since(start)
	e.recomputes.Add(1)
	e.view.Update(func(old *View) (*View, bool) {
		return v, old == nil || v.Version > old.Version
	})
}
