package platform

import (
	"sync"

	"github.com/chewxy/math32"
)

// Sine is a deterministic dual-channel source: a sine on the voltage
// channel around mid-scale and its quadrature on the current channel.
// Reproducible output keeps streamed datagrams comparable across runs.
type Sine struct {
	mu      sync.Mutex
	n       uint32
	samples uint32 // samples per full period
	amp     float32
}

// NewSine builds a source with the given period in samples and amplitude
// in raw 16-bit counts.
func NewSine(samplesPerPeriod uint32, amplitude float32) *Sine {
	if samplesPerPeriod == 0 {
		samplesPerPeriod = 1000
	}
	return &Sine{samples: samplesPerPeriod, amp: amplitude}
}

func (s *Sine) Next() (uint16, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase := 2 * math32.Pi * float32(s.n%s.samples) / float32(s.samples)
	s.n++
	const mid = 0x8000
	v := mid + s.amp*math32.Sin(phase)
	c := mid + s.amp*math32.Cos(phase)
	return uint16(v), uint16(c)
}

// Ramp is the simplest deterministic source: an incrementing count on the
// voltage channel and a constant on the current channel.
type Ramp struct {
	mu sync.Mutex
	n  uint16
	c  uint16
}

func NewRamp(current uint16) *Ramp { return &Ramp{c: current} }

func (r *Ramp) Next() (uint16, uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return r.n, r.c
}
