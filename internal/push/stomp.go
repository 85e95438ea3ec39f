package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

const (
	DefaultStompURL       = "ws://localhost:8080/ws-sensor/websocket"
	DefaultStompTopic     = "/topic/sensor-data"
	DefaultStompRequest   = "/app/sensor/request"
	DefaultStompHistory   = "/app/sensor/history"
	DefaultStompHeartBeat = 4 * time.Second

	closeTimeout = 2 * time.Second
)

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

func deadline() time.Time { return time.Now().Add(closeTimeout) }

// StompDialer speaks STOMP over a raw WebSocket, as served by a SockJS
// endpoint's /websocket transport.
type StompDialer struct {
	URL       string
	Header    http.Header
	HeartBeat time.Duration
	// WebSocket overrides the default dialer. Its Subprotocols are replaced.
	WebSocket *websocket.Dialer
	Logger    *slog.Logger
}

func (d *StompDialer) Dial(ctx context.Context) (Session, error) {
	rawURL := d.URL
	if rawURL == "" {
		rawURL = DefaultStompURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stomp url: %w", err)
	}

	wd := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if d.WebSocket != nil {
		wd = *d.WebSocket
	}
	wd.Subprotocols = stompSubprotocols

	ws, _, err := wd.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	stream := newWSStream(ws)

	hb := d.HeartBeat
	if hb == 0 {
		hb = DefaultStompHeartBeat
	}

	// stomp.Connect has no context; closing the socket aborts the handshake.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	conn, err := stomp.Connect(stream,
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(hb, hb),
	)
	if !stop() {
		if err == nil {
			conn.MustDisconnect()
		}
		return nil, fmt.Errorf("stomp handshake: %w", ctx.Err())
	}
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}

	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log.Debug("stomp session established", slog.String("url", u.Redacted()), slog.String("server", conn.Server()))

	return &stompSession{conn: conn, stream: stream, done: make(chan struct{})}, nil
}

type stompSession struct {
	conn   *stomp.Conn
	stream *wsStream

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (s *stompSession) Subscribe(_ context.Context, topic string, handler func([]byte)) error {
	sub, err := s.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("stomp subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				s.end(msg.Err)
				return
			}
			handler(msg.Body)
		}
		s.end(errors.New("stomp subscription closed"))
	}()
	return nil
}

func (s *stompSession) Send(_ context.Context, destination string, body []byte) error {
	if err := s.conn.Send(destination, "text/plain", body); err != nil {
		return fmt.Errorf("stomp send %s: %w", destination, err)
	}
	return nil
}

func (s *stompSession) Done() <-chan struct{} { return s.done }

func (s *stompSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends DISCONNECT, falling back to dropping the socket when the
// server does not answer in time.
func (s *stompSession) Close() error {
	var err error
	select {
	case <-s.done:
	default:
		errc := make(chan error, 1)
		go func() { errc <- s.conn.Disconnect() }()
		select {
		case err = <-errc:
		case <-time.After(closeTimeout):
			s.conn.MustDisconnect()
		}
	}
	s.end(nil)
	_ = s.stream.Close()
	return err
}

func (s *stompSession) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
