package main

import (
	"context"

	tui "github.com/charmbracelet/bubbletea"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/engine"
)

type viewMsg struct{ view *engine.View }

// viewPump forwards engine views to the event loop. Notifications coalesce:
// however many views are published while a send is in flight, the loop
// receives only the latest one afterwards.
type viewPump struct {
	eng    *engine.Engine
	notify chan struct{}
	cancel func()
}

func newViewPump(eng *engine.Engine) *viewPump {
	p := &viewPump{eng: eng, notify: make(chan struct{}, 1)}
	p.cancel = eng.Subscribe(func(*engine.View) { p.poke() })
	return p
}

func (p *viewPump) poke() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *viewPump) run(ctx context.Context, send func(tui.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			send(viewMsg{p.eng.Snapshot()})
		}
	}
}

func (p *viewPump) close() { p.cancel() }
