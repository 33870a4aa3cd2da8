// Package supervisor owns the startup sequence, the error escalation sink
// and the front-panel indication (error LED, link LED, RGB).
package supervisor

import (
	"context"
	"sync"

	"acqdevice-go/bus"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

// State of the whole instrument.
type State uint8

const (
	StateBoot State = iota
	StateRunning
	StateError
)

// Stage is one step of the startup sequence.
type Stage struct {
	Name  string
	Start func(ctx context.Context, conn *bus.Connection) error
}

// LEDs are the indication outputs the supervisor drives.
type LEDs struct {
	Error   types.GPIOPin
	Link    types.GPIOPin
	R, G, B types.PWMPort
}

// Supervisor runs the stages in order and then sinks escalations.
type Supervisor struct {
	log  *logx.Logger
	b    *bus.Bus
	leds LEDs

	mu        sync.Mutex
	state     State
	suspended map[string]bool
}

func New(b *bus.Bus, leds LEDs) *Supervisor {
	return &Supervisor{
		log:       logx.New("sup"),
		b:         b,
		leds:      leds,
		suspended: make(map[string]bool),
	}
}

// Run starts every stage in order. A stage failure latches the error LED,
// turns the RGB red and aborts the sequence; there is no retry. The
// escalation sink subscribes before the first stage starts, so an error
// published during startup is never lost.
func (s *Supervisor) Run(ctx context.Context, stages []Stage) error {
	conn := s.b.NewConnection("supervisor")
	errSub := conn.Subscribe(bus.T("system", "error"))
	rgbSub := conn.Subscribe(bus.T("rgb", "set"))
	linkSub := conn.Subscribe(bus.T("net", "link"))
	go s.watch(ctx, conn, errSub, rgbSub, linkSub)

	for _, st := range stages {
		s.log.Infof("starting %s", st.Name)
		if err := st.Start(ctx, s.b.NewConnection(st.Name)); err != nil {
			s.log.Errorf("%s failed to start: %v", st.Name, err)
			s.fail()
			return err
		}
	}
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.log.Infof("all services up")
	return nil
}

// State reports the instrument state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Suspended reports whether a component has been taken out of service.
func (s *Supervisor) Suspended(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended[service]
}

func (s *Supervisor) fail() {
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()
	s.leds.Error.Set(true)
	s.setRGB(255, 0, 0)
}

func (s *Supervisor) setRGB(r, g, b uint8) {
	s.leds.R.SetLevel(r)
	s.leds.G.SetLevel(g)
	s.leds.B.SetLevel(b)
}

// watch sinks error escalations, manual RGB requests and link transitions.
// An escalation suspends the offending component only; the rest of the
// system keeps running.
func (s *Supervisor) watch(ctx context.Context, conn *bus.Connection, errSub, rgbSub, linkSub *bus.Subscription) {
	defer conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-errSub.Channel():
			se, ok := msg.Payload.(types.SysError)
			if !ok {
				continue
			}
			s.log.Errorf("%s: %s", se.Service, se.Detail)
			s.mu.Lock()
			s.suspended[se.Service] = true
			s.mu.Unlock()
			s.leds.Error.Set(true)
			if se.Severity == types.SeverityFatal {
				s.fail()
			}

		case msg := <-rgbSub.Channel():
			if c, ok := msg.Payload.(types.RGBSet); ok {
				s.setRGB(c.R, c.G, c.B)
			}

		case msg := <-linkSub.Channel():
			ev, ok := msg.Payload.(types.LinkEvent)
			if !ok {
				continue
			}
			s.leds.Link.Set(ev.Up)
			if s.State() == StateRunning {
				if ev.Up {
					s.setRGB(0, 255, 0)
				} else {
					s.setRGB(0, 0, 255)
				}
			}
		}
	}
}
