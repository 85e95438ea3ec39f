// Package store owns the canonical reading set: the single ordered,
// deduplicated, bounded collection every view is derived from.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock"
)

const (
	DefaultCapacity     = 50
	DefaultHighlightTTL = 3 * time.Second
)

type Options struct {
	// Capacity bounds the number of retained readings. Overflow is trimmed
	// from the tail (oldest by position). Defaults to DefaultCapacity.
	Capacity int

	// HighlightTTL is how long an admitted sensor stays marked as new.
	// Defaults to DefaultHighlightTTL.
	HighlightTTL time.Duration

	Clock  wallclock.WallClock
	Logger *slog.Logger
}

// Store is safe for concurrent use. Every mutation completes before
// subscribers are notified, and the slice handed to readers is never
// modified afterwards.
type Store struct {
	capacity int
	ttl      time.Duration
	clock    wallclock.WallClock
	log      *slog.Logger

	mu         sync.Mutex
	readings   []reading.Reading
	highlights highlights
	lastUpdate time.Time
	version    uint64

	subsMu sync.Mutex
	nextID uint64
	subs   map[uint64]func()
}

func New(opts Options) *Store {
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.HighlightTTL <= 0 {
		opts.HighlightTTL = DefaultHighlightTTL
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{
		capacity:   opts.Capacity,
		ttl:        opts.HighlightTTL,
		clock:      wallclock.OrSystem(opts.Clock),
		log:        log,
		highlights: make(highlights),
		subs:       make(map[uint64]func()),
	}
}

func (s *Store) Capacity() int { return s.capacity }

// ReplaceAll installs rs as the canonical set in the given order, trimmed to
// capacity, and clears every highlight.
func (s *Store) ReplaceAll(rs []reading.Reading) {
	next := make([]reading.Reading, min(len(rs), s.capacity))
	copy(next, rs)

	s.mu.Lock()
	s.readings = next
	s.highlights.clear()
	s.version++
	s.mu.Unlock()

	s.log.Debug("canonical set replaced", slog.Int("readings", len(next)), slog.Int("received", len(rs)))
	s.notify()
}

// Admit prepends r unless a reading with the same identity is already held.
// It reports whether r was admitted; a duplicate is a silent no-op.
func (s *Store) Admit(r reading.Reading) bool {
	s.mu.Lock()
	if !Admissible(s.readings, r) {
		s.mu.Unlock()
		s.log.Debug("duplicate reading ignored", slog.Int64("sensor", r.SensorID), slog.Time("timestamp", r.Timestamp))
		return false
	}
	n := min(len(s.readings)+1, s.capacity)
	next := make([]reading.Reading, n)
	next[0] = r
	copy(next[1:], s.readings)

	now := s.clock.Now()
	s.readings = next
	s.highlights.add(r.SensorID, now, now.Add(s.ttl))
	s.lastUpdate = now
	s.version++
	s.mu.Unlock()

	s.clock.AfterFunc(s.ttl, s.expireHighlights)
	s.notify()
	return true
}

func (s *Store) expireHighlights() {
	s.mu.Lock()
	dropped := s.highlights.expire(s.clock.Now())
	if dropped {
		s.version++
	}
	s.mu.Unlock()

	if dropped {
		s.notify()
	}
}

// Readings returns the canonical set, newest-first by arrival. The slice
// must not be modified.
func (s *Store) Readings() []reading.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readings
}

// IsHighlighted reports whether the sensor is currently marked as new.
func (s *Store) IsHighlighted(sensorID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlights.has(sensorID, s.clock.Now())
}

// LastUpdate returns the time of the last admission, zero if none.
func (s *Store) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot is a consistent view of the store at one version.
type Snapshot struct {
	Readings    []reading.Reading
	Highlighted map[int64]bool
	LastUpdate  time.Time
	Version     uint64
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	hl := make(map[int64]bool, len(s.highlights))
	for id := range s.highlights {
		if s.highlights.has(id, now) {
			hl[id] = true
		}
	}
	return Snapshot{
		Readings:    s.readings,
		Highlighted: hl,
		LastUpdate:  s.lastUpdate,
		Version:     s.version,
	}
}

// Subscribe registers fn to be called after every change. Callbacks run on
// the mutating goroutine, outside the store lock.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
