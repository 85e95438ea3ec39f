// Package chart keeps the three chart surfaces in step with the projected
// series without knowing how the surfaces draw.
package chart

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/project"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock"
)

var ErrDisposed = errors.New("chart: adapter disposed")

type State int

const (
	Uninitialized State = iota
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Surface is a rendering target bound to one Kind.
type Surface interface {
	Kind() Kind
	Render(Config) error
	Dispose()
}

type Options struct {
	// Debounce delays applying an update so bursts coalesce into one render.
	// Zero applies updates synchronously.
	Debounce time.Duration
	Clock    wallclock.WallClock
	Logger   *slog.Logger
}

// Adapter moves from Uninitialized to Ready once a surface of every Kind is
// attached, and to Disposed on Dispose. Updates received before Ready are
// dropped, not replayed; nothing is rendered after Dispose.
type Adapter struct {
	debounce time.Duration
	clock    wallclock.WallClock
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	surfaces map[Kind]Surface
	pending  *project.Series
	applied  *project.Series
	timer    wallclock.Timer
	renders  int
}

func New(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		debounce: max(0, opts.Debounce),
		clock:    wallclock.OrSystem(opts.Clock),
		log:      log,
		surfaces: make(map[Kind]Surface, len(Kinds)),
	}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Renders counts the series applied to the surfaces.
func (a *Adapter) Renders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renders
}

// Attach binds s, replacing any surface of the same kind.
func (a *Adapter) Attach(s Surface) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Disposed {
		return ErrDisposed
	}
	a.surfaces[s.Kind()] = s
	a.applied = nil
	if a.state == Uninitialized && len(a.surfaces) == len(Kinds) {
		a.state = Ready
		a.log.Debug("chart surfaces ready")
	}
	return nil
}

// Update offers the current series. It never fails.
func (a *Adapter) Update(s project.Series) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Uninitialized:
		a.log.Debug("chart update before surfaces exist; dropped", slog.Int("points", s.Len()))
		return
	case Disposed:
		return
	}

	a.pending = &s
	if a.debounce == 0 {
		a.flushLocked()
		return
	}
	if a.timer == nil {
		a.timer = a.clock.AfterFunc(a.debounce, a.flush)
	}
}

func (a *Adapter) flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	a.flushLocked()
}

func (a *Adapter) flushLocked() {
	s := a.pending
	a.pending = nil
	if s == nil || a.state != Ready {
		return
	}
	if a.applied != nil && a.applied.Equal(*s) {
		return
	}

	configs := Configs(*s)
	for _, k := range Kinds {
		if err := a.surfaces[k].Render(configs[k]); err != nil {
			a.log.Warn("chart render failed", slog.String("chart", k.String()), slog.String("error", err.Error()))
		}
	}
	a.applied = s
	a.renders++
}

// Dispose stops pending work and disposes every surface. It is idempotent.
func (a *Adapter) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Disposed {
		return
	}
	a.state = Disposed
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = nil
	for k, s := range a.surfaces {
		s.Dispose()
		delete(a.surfaces, k)
	}
}
