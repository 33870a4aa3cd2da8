// Package platform provides software implementations of the hardware ports
// so the whole daemon runs off-target. Tests and the host binary share these;
// an on-target build would swap in pin-backed ones.
package platform

import (
	"sync"

	"acqdevice-go/types"
)

// Pin is a simulated digital line.
type Pin struct {
	mu    sync.Mutex
	level bool
}

func NewPin(level bool) *Pin { return &Pin{level: level} }

func (p *Pin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

func (p *Pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IRQPin is a simulated input line with edge notification. Inject drives
// the line from test or simulation code and fires the armed callback.
type IRQPin struct {
	mu    sync.Mutex
	level bool
	edge  types.Edge
	fn    func(level bool)
}

func NewIRQPin(level bool) *IRQPin { return &IRQPin{level: level} }

func (p *IRQPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *IRQPin) SetInterrupt(edge types.Edge, fn func(level bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = edge
	p.fn = fn
	return nil
}

func (p *IRQPin) ClearInterrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = types.EdgeNone
	p.fn = nil
}

// Inject drives the line. The callback fires only on a real transition that
// matches the armed edge, like the silicon would.
func (p *IRQPin) Inject(level bool) {
	p.mu.Lock()
	was := p.level
	p.level = level
	fn := p.fn
	edge := p.edge
	p.mu.Unlock()

	if fn == nil || was == level {
		return
	}
	switch edge {
	case types.EdgeBoth:
	case types.EdgeRising:
		if !level {
			return
		}
	case types.EdgeFalling:
		if level {
			return
		}
	default:
		return
	}
	fn(level)
}

// DAC is a simulated digital-to-analog output channel.
type DAC struct {
	mu   sync.Mutex
	on   bool
	code uint16
}

func NewDAC() *DAC { return &DAC{} }

func (d *DAC) SetEnabled(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
}

func (d *DAC) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

func (d *DAC) SetCode(code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.code = code
}

func (d *DAC) Code() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

// PWM is one simulated 8-bit compare channel.
type PWM struct {
	mu    sync.Mutex
	level uint8
}

func NewPWM() *PWM { return &PWM{} }

func (p *PWM) SetLevel(level uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

func (p *PWM) Level() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Link is a simulated PHY monitor. SetUp drives transitions; the channel
// yields the initial state first.
type Link struct {
	ch chan bool
}

func NewLink(up bool) *Link {
	l := &Link{ch: make(chan bool, 8)}
	l.ch <- up
	return l
}

func (l *Link) States() <-chan bool { return l.ch }

// SetUp injects a transition. Non-blocking so simulation code can never
// stall behind a slow consumer.
func (l *Link) SetUp(up bool) {
	select {
	case l.ch <- up:
	default:
	}
}
