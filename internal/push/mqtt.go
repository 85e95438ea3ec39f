package push

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

const (
	DefaultMQTTAddress = "tcp://localhost:1883"
	DefaultMQTTTopic   = "sensor-data"
	DefaultMQTTRequest = "sensor/request"
	DefaultMQTTHistory = "sensor/history"
	defaultKeepAlive   = 30
)

// MQTTDialer connects to an MQTT v5 broker over TCP with a clean session.
type MQTTDialer struct {
	// Address is host:port, optionally prefixed with tcp:// or mqtt://.
	Address string
	// ClientID defaults to climate-tui-<uuid>, fresh for every dial.
	ClientID  string
	KeepAlive uint16
	Logger    *slog.Logger
}

func (d *MQTTDialer) Dial(ctx context.Context) (Session, error) {
	addr, err := mqttHost(d.Address)
	if err != nil {
		return nil, err
	}
	clientID := d.ClientID
	if clientID == "" {
		clientID = "climate-tui-" + uuid.NewString()
	}
	keepAlive := d.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	s := &mqttSession{done: make(chan struct{}), log: log}
	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     packets.NewThreadSafeConn(conn),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			s.onPublish,
		},
		OnClientError: s.end,
		OnServerDisconnect: func(p *paho.Disconnect) {
			s.end(fmt.Errorf("server disconnect: reason code %d", p.ReasonCode))
		},
	})

	if _, err := s.client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		CleanStart: true,
		KeepAlive:  keepAlive,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	log.Debug("mqtt session established", slog.String("broker", addr), slog.String("client_id", clientID))
	return s, nil
}

func mqttHost(address string) (string, error) {
	if address == "" {
		address = DefaultMQTTAddress
	}
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		// Bare host:port.
		if _, _, serr := net.SplitHostPort(address); serr != nil {
			return "", fmt.Errorf("invalid mqtt address %q", address)
		}
		return address, nil
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "1883"), nil
	}
	return u.Host, nil
}

type mqttSession struct {
	client *paho.Client
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[string]func([]byte)
	err      error

	once sync.Once
	done chan struct{}
}

func (s *mqttSession) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	s.mu.Lock()
	if s.handlers == nil {
		s.handlers = make(map[string]func([]byte))
	}
	s.handlers[topic] = handler
	s.mu.Unlock()

	if _, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

func (s *mqttSession) onPublish(p paho.PublishReceived) (bool, error) {
	s.mu.Lock()
	h := s.handlers[p.Packet.Topic]
	s.mu.Unlock()
	if h == nil {
		s.log.Debug("mqtt message on unexpected topic", slog.String("topic", p.Packet.Topic))
		return false, nil
	}
	h(p.Packet.Payload)
	return true, nil
}

func (s *mqttSession) Send(ctx context.Context, destination string, body []byte) error {
	if _, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   destination,
		QoS:     0,
		Payload: body,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", destination, err)
	}
	return nil
}

func (s *mqttSession) Done() <-chan struct{} { return s.done }

func (s *mqttSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mqttSession) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.end(nil)
	return s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (s *mqttSession) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
