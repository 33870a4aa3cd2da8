package adc

import (
	"encoding/binary"
	"sync/atomic"

	"acqdevice-go/errcode"
)

// HeaderBytes is the fixed datagram header: u32 seq, u16 marker, u16 ebp.
const HeaderBytes = 8

// BufState tracks ownership of one half of the double buffer.
type BufState uint32

const (
	BufFree BufState = iota
	BufFilling
	BufReady
	BufInFlight
)

// Buffer is one half-buffer's worth of paired samples plus its header.
// Between the capture callback and Release the consumer owns it; the
// producer will not touch it again until it returns to the pool.
type Buffer struct {
	pool *Pool
	idx  uint8

	Seq    uint32
	Marker uint16
	EBP    uint16
	Ch1    []uint16
	Ch2    []uint16
}

// ID reports which half of the double buffer this is (0 or 1).
func (b *Buffer) ID() uint8 { return b.idx }

// Release returns the buffer to the producer. It is the submit-buffer
// operation of the front-end: failing to call it before the producer wraps
// around kills the acquisition.
func (b *Buffer) Release() {
	b.pool.release(b.idx)
}

// Bytes encodes the wire layout:
//
//	[u32 seq LE][u16 marker][u16 ebp][ch1 u16 LE x N][ch2 u16 LE x N]
func (b *Buffer) Bytes() []byte {
	out := make([]byte, HeaderBytes+2*len(b.Ch1)+2*len(b.Ch2))
	binary.LittleEndian.PutUint32(out[0:4], b.Seq)
	binary.LittleEndian.PutUint16(out[4:6], b.Marker)
	binary.LittleEndian.PutUint16(out[6:8], b.EBP)
	off := HeaderBytes
	for _, s := range b.Ch1 {
		binary.LittleEndian.PutUint16(out[off:], s)
		off += 2
	}
	for _, s := range b.Ch2 {
		binary.LittleEndian.PutUint16(out[off:], s)
		off += 2
	}
	return out
}

// Pool is the double-buffer region. The producer alternates between the two
// halves; the consumer returns them via Release.
type Pool struct {
	bufs  [2]Buffer
	state [2]atomic.Uint32
}

// NewPool allocates both halves for the given samples-per-buffer.
func NewPool(samples uint32) *Pool {
	p := &Pool{}
	for i := range p.bufs {
		p.bufs[i] = Buffer{
			pool: p,
			idx:  uint8(i),
			Ch1:  make([]uint16, samples),
			Ch2:  make([]uint16, samples),
		}
	}
	return p
}

// acquire hands half idx to the producer for filling. If the consumer still
// owns it, the producer has wrapped around: the acquisition must stop.
func (p *Pool) acquire(idx uint8) (*Buffer, error) {
	if !p.state[idx].CompareAndSwap(uint32(BufFree), uint32(BufFilling)) {
		return nil, errcode.Exhausted
	}
	return &p.bufs[idx], nil
}

// ready publishes half idx to the consumer.
func (p *Pool) ready(idx uint8) {
	p.state[idx].Store(uint32(BufReady))
}

func (p *Pool) release(idx uint8) {
	p.state[idx].Store(uint32(BufFree))
}

// State reports the current ownership of half idx.
func (p *Pool) State(idx uint8) BufState {
	return BufState(p.state[idx].Load())
}
