package adc

import (
	"context"
	"sync"
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/x/logx"
	"acqdevice-go/x/mathx"
)

// State is the front-end type-state. Transitions are serialised by the
// owning control task; illegal ones return errcode.Conflict.
type State uint8

const (
	StateDown   State = iota // unpowered
	StateUp                  // powered, not configured (fault parking state)
	StateConfig              // config mode, idle
	StateAcq                 // acquisition running
)

// CaptureFunc receives an owned buffer on each half-buffer completion. It
// runs in the producer's context and must not block; ownership lasts until
// Buffer.Release.
type CaptureFunc func(*Buffer)

// backend is what differs between the two front-ends: the arming/teardown
// pin sequences and how raw words become samples.
type backend interface {
	arm(cfg Config) error
	disarm()
	fill(cfg Config, b *Buffer)
}

// Frontend drives one back-end as a type-state machine with a double-buffer
// producer. There is exactly one Frontend per back-end; callers coordinate
// through the stream engine.
type Frontend struct {
	id  BackendID
	be  backend
	log *logx.Logger

	mu      sync.Mutex
	state   State
	faulted bool

	capture CaptureFunc
	onFault func(error)

	pool   *Pool
	seq    uint32
	marker bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewInternal builds the internal 16-bit front-end.
func NewInternal(src SignalSource) *Frontend {
	return &Frontend{
		id:  Internal,
		be:  &internalBackend{src: src},
		log: logx.New("adc"),
	}
}

// NewExternal builds the external simultaneous-sampling front-end.
func NewExternal(src SignalSource, ports ExternalPorts) *Frontend {
	return &Frontend{
		id:  External,
		be:  &externalBackend{src: src, ports: ports},
		log: logx.New("adc"),
	}
}

func (f *Frontend) ID() BackendID { return f.id }

// RegisterCapture installs the half-buffer completion callback. Must be
// called while idle.
func (f *Frontend) RegisterCapture(fn CaptureFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAcq {
		return errcode.Conflict
	}
	f.capture = fn
	return nil
}

// OnFault installs the escalation hook invoked when the producer kills an
// acquisition (consumer overrun). Runs on the producer goroutine.
func (f *Frontend) OnFault(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFault = fn
}

// Init powers the back-end up into config state, clearing any fault.
func (f *Frontend) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAcq {
		return errcode.Conflict
	}
	f.state = StateConfig
	f.faulted = false
	return nil
}

// State reports the current type-state.
func (f *Frontend) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Active reports whether an acquisition is running.
func (f *Frontend) Active() bool { return f.State() == StateAcq }

// Faulted reports whether the back-end was killed by an overrun.
func (f *Frontend) Faulted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faulted
}

// Start arms the back-end and begins double-buffered capture. It fails
// unless the back-end is powered up, configured and idle.
func (f *Frontend) Start(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConfig || f.faulted {
		return errcode.Conflict
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := f.be.arm(cfg); err != nil {
		return err
	}
	f.pool = NewPool(cfg.SamplesPerBuffer)
	f.seq = 0
	f.marker = false
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.state = StateAcq
	go f.run(ctx, cfg)
	return nil
}

// Stop halts the acquisition and re-enters config state. For the external
// back-end this is a hard reset, not a pause.
func (f *Frontend) Stop() error {
	f.mu.Lock()
	if f.state != StateAcq {
		f.mu.Unlock()
		return errcode.Conflict
	}
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel()
	<-done

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAcq { // not already torn down by a fault
		f.be.disarm()
		f.state = StateConfig
	}
	return nil
}

// SetCaptureMarker arms the one-shot energy-breakpoint flag and returns the
// sequence number the flagged buffer will carry.
func (f *Frontend) SetCaptureMarker() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAcq {
		return 0, errcode.Conflict
	}
	f.marker = true
	return f.seq, nil
}

// Value performs a single-buffer capture and returns the rounded mean of the
// requested channel. It fails while an acquisition is active.
func (f *Frontend) Value(cfg Config, ch int) (uint16, error) {
	if ch < 0 || ch > 1 {
		return 0, errcode.Range
	}
	f.mu.Lock()
	if f.state != StateConfig {
		f.mu.Unlock()
		return 0, errcode.Conflict
	}
	f.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	buf := &Buffer{
		Ch1: make([]uint16, cfg.SamplesPerBuffer),
		Ch2: make([]uint16, cfg.SamplesPerBuffer),
	}
	f.be.fill(cfg, buf)

	samples := buf.Ch1
	if ch == 1 {
		samples = buf.Ch2
	}
	var sum uint64
	for _, s := range samples {
		sum += uint64(s)
	}
	return uint16(mathx.RoundDiv(sum, uint64(len(samples)))), nil
}

// run is the producer: one iteration per half-buffer completion.
func (f *Frontend) run(ctx context.Context, cfg Config) {
	defer close(f.done)

	interval := cfg.BufferPeriod()
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	idx := uint8(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		buf, err := f.pool.acquire(idx)
		if err != nil {
			// The consumer still owns this half: the whole acquisition
			// stops and the back-end is marked faulted.
			f.failAcquisition(idx)
			return
		}
		f.be.fill(cfg, buf)

		f.mu.Lock()
		buf.Seq = f.seq
		f.seq++
		buf.Marker = Marker(f.id)
		buf.EBP = 0
		if f.marker {
			buf.EBP = 1
			f.marker = false
		}
		cb := f.capture
		f.mu.Unlock()

		f.pool.ready(idx)
		if cb != nil {
			cb(buf)
		}
		idx ^= 1
	}
}

func (f *Frontend) failAcquisition(idx uint8) {
	f.log.Errorf("half-buffer %d still owned at completion, stopping acquisition", idx)
	f.mu.Lock()
	f.be.disarm()
	f.state = StateUp
	f.faulted = true
	hook := f.onFault
	f.mu.Unlock()
	if hook != nil {
		hook(errcode.Exhausted)
	}
}
