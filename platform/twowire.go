package platform

import (
	"errors"
	"sync"
)

// TwoWire is a simulated word-register device on a two-wire bus. It speaks
// the transfer shapes the charger driver issues: a one-byte write selects a
// register for a two-byte read, a three-byte write stores a word low byte
// first.
type TwoWire struct {
	mu   sync.Mutex
	addr uint16
	regs map[byte]uint16
	dead bool
}

// NewTwoWire seeds the device at addr with the given register image.
func NewTwoWire(addr uint16, regs map[byte]uint16) *TwoWire {
	image := make(map[byte]uint16, len(regs))
	for r, v := range regs {
		image[r] = v
	}
	return &TwoWire{addr: addr, regs: image}
}

// SetRegister updates the simulated silicon from outside the bus, like an
// internal state machine would.
func (d *TwoWire) SetRegister(reg byte, val uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[reg] = val
}

// Register reads the image without a bus transaction.
func (d *TwoWire) Register(reg byte) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg]
}

// SetDead makes every transfer fail, simulating a wedged bus.
func (d *TwoWire) SetDead(dead bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = dead
}

func (d *TwoWire) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return errors.New("two-wire: no response")
	}
	if addr != d.addr {
		return errors.New("two-wire: no ack")
	}
	switch {
	case len(w) == 3 && len(r) == 0:
		d.regs[w[0]] = uint16(w[1]) | uint16(w[2])<<8
	case len(w) == 1 && len(r) == 2:
		v := d.regs[w[0]]
		r[0] = byte(v)
		r[1] = byte(v >> 8)
	default:
		return errors.New("two-wire: unsupported transfer")
	}
	return nil
}
