// Package push keeps one live connection to the sensor push channel and
// reports its status as a latest-value cell.
package push

import "context"

type (
	// Session is one established transport connection.
	//
	// Handlers registered with Subscribe are called sequentially, in delivery
	// order. Done is closed when the session ends for any reason; Err then
	// reports why (nil after Close).
	Session interface {
		Subscribe(ctx context.Context, topic string, handler func(body []byte)) error
		Send(ctx context.Context, destination string, body []byte) error
		Done() <-chan struct{}
		Err() error
		Close() error
	}

	// Dialer opens sessions.
	Dialer interface {
		Dial(ctx context.Context) (Session, error)
	}

	// DialerFunc adapts a function to Dialer.
	DialerFunc func(ctx context.Context) (Session, error)
)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }
