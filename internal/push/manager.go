package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/observe"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/retry"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

var errSessionEnded = errors.New("push: session ended")

type Options struct {
	Dialer Dialer

	// Topic carries one JSON-encoded reading per message.
	Topic string
	// RequestDestination and HistoryDestination receive the empty-bodied
	// request-latest and request-history messages.
	RequestDestination string
	HistoryDestination string

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnReading receives every decoded reading, in delivery order.
	OnReading func(reading.Reading)
	// OnDiscard receives every payload that could not be decoded.
	OnDiscard func(error)

	Clock  wallclock.WallClock
	Logger *slog.Logger
}

// Stats are running totals since the manager was created.
type Stats struct {
	Received   uint64
	Malformed  uint64
	Sessions   uint64
	Reconnects uint64
}

// Manager owns the lifecycle of the push connection. Transport failures never
// reach callers; they show up only as a false status and are retried with
// exponential backoff until Disconnect.
type Manager struct {
	opts   Options
	log    *slog.Logger
	status *observe.Cell[bool]

	// Serialises Connect and Disconnect.
	life sync.Mutex

	mu      sync.Mutex
	session Session
	cancel  context.CancelFunc
	done    chan struct{}

	received   atomic.Uint64
	malformed  atomic.Uint64
	sessions   atomic.Uint64
	reconnects atomic.Uint64
}

func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	return &Manager{
		opts:   opts,
		log:    log,
		status: observe.NewCell(false),
	}
}

// Status is the connection status cell. Subscribers receive the current
// value immediately.
func (m *Manager) Status() *observe.Cell[bool] { return m.status }

func (m *Manager) Connected() bool { return m.status.Get() }

func (m *Manager) Stats() Stats {
	return Stats{
		Received:   m.received.Load(),
		Malformed:  m.malformed.Load(),
		Sessions:   m.sessions.Load(),
		Reconnects: m.reconnects.Load(),
	}
}

// Connect starts the connection loop. It returns immediately; a loop that is
// already running is left alone.
func (m *Manager) Connect() {
	m.life.Lock()
	defer m.life.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Disconnect tears the connection down and waits for the loop to exit. It is
// idempotent.
func (m *Manager) Disconnect() {
	m.life.Lock()
	defer m.life.Unlock()

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.setStatus(false)
}

// RequestLatest asks the server to publish its latest readings. It sends
// only while connected and reports whether the message went out.
func (m *Manager) RequestLatest(ctx context.Context) bool {
	return m.request(ctx, m.opts.RequestDestination)
}

// RequestHistory asks the server to publish its stored history. It sends
// only while connected and reports whether the message went out.
func (m *Manager) RequestHistory(ctx context.Context) bool {
	return m.request(ctx, m.opts.HistoryDestination)
}

func (m *Manager) request(ctx context.Context, destination string) bool {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil || destination == "" {
		m.log.Debug("push request skipped: not connected", slog.String("destination", destination))
		return false
	}
	if err := s.Send(ctx, destination, nil); err != nil {
		m.log.Warn("push request failed", slog.String("destination", destination), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := &retry.ExponentialBackoff{
		MinInterval: m.opts.MinBackoff,
		MaxInterval: m.opts.MaxBackoff,
		Clock:       m.opts.Clock,
		Logger:      m.log,
	}

	for first := true; ; first = false {
		var s Session
		err := backoff.Start(ctx, "push connect", func(ctx context.Context) (bool, error) {
			var err error
			s, err = m.open(ctx)
			return true, err
		})
		if err != nil {
			return
		}
		if !first {
			m.reconnects.Add(1)
		}
		m.sessions.Add(1)

		m.mu.Lock()
		m.session = s
		m.mu.Unlock()
		m.setStatus(true)
		m.log.Info("push connected", slog.String("topic", m.opts.Topic))

		select {
		case <-s.Done():
			err := s.Err()
			if err == nil {
				err = errSessionEnded
			}
			m.log.Warn("push connection lost", slog.String("error", err.Error()))
		case <-ctx.Done():
		}

		m.mu.Lock()
		m.session = nil
		m.mu.Unlock()
		_ = s.Close()
		m.setStatus(false)

		if ctx.Err() != nil {
			m.log.Info("push disconnected")
			return
		}
	}
}

func (m *Manager) open(ctx context.Context) (Session, error) {
	s, err := m.opts.Dialer.Dial(ctx)
	if err != nil {
		m.log.Debug("push dial failed", slog.String("error", err.Error()))
		return nil, err
	}
	if err := s.Subscribe(ctx, m.opts.Topic, m.handle); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (m *Manager) handle(body []byte) {
	m.received.Add(1)
	r, err := reading.Decode(body)
	if err != nil {
		m.malformed.Add(1)
		m.log.Warn("discarding malformed push payload", slog.String("error", err.Error()), slog.Int("bytes", len(body)))
		if m.opts.OnDiscard != nil {
			m.opts.OnDiscard(err)
		}
		return
	}
	if m.opts.OnReading != nil {
		m.opts.OnReading(r)
	}
}

func (m *Manager) setStatus(connected bool) {
	m.status.Update(func(old bool) (bool, bool) { return connected, old != connected })
}

// Running reports whether the connection loop is active, connected or not.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
