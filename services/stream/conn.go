package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"acqdevice-go/adc"
	"acqdevice-go/errcode"
	"acqdevice-go/x/logx"
	"acqdevice-go/x/spsc"
)

// AcqState is the per-connection acquisition state.
type AcqState uint8

const (
	Inactive AcqState = iota
	Active
	Failed
)

func (s AcqState) String() string {
	switch s {
	case Active:
		return "active"
	case Failed:
		return "error"
	default:
		return "inactive"
	}
}

// reqTimeout bounds every blocking configuration call.
const reqTimeout = time.Second

// request runs on the control actor; the reply channel carries its result.
type request struct {
	fn    func() (any, error)
	reply chan result
}

type result struct {
	val any
	err error
}

// Conn is one stream connection: a (peer, UDP port) endpoint with its own
// acquisition config. The control actor owns the config; the egress loop
// consumes owned buffer handles and writes datagrams.
type Conn struct {
	id   int
	peer *net.UDPAddr
	log  *logx.Logger

	reqs chan request

	mu    sync.Mutex // guards cfg, state, last
	cfg   adc.Config
	state AcqState
	last  [2][4]uint16

	backend adc.BackendID
	fe      *adc.Frontend // bound while active
	ring    *spsc.Ring[*adc.Buffer]
	sock    *net.UDPConn

	egressCancel context.CancelFunc
	egressDone   chan struct{}

	failing atomic.Bool
	onError func(*Conn, error) // engine escalation hook
}

func newConn(ctx context.Context, id int, peer *net.UDPAddr, defaults adc.Config, onError func(*Conn, error)) *Conn {
	c := &Conn{
		id:      id,
		peer:    peer,
		log:     logx.New(fmt.Sprintf("stream%d", id)),
		reqs:    make(chan request),
		cfg:     defaults,
		onError: onError,
	}
	go c.control(ctx)
	return c
}

// control is the connection's control actor: the sole mutator of the
// configuration and acquisition state. Requests are serviced in arrival
// order.
func (c *Conn) control(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case req := <-c.reqs:
			v, err := req.fn()
			req.reply <- result{val: v, err: err}
		}
	}
}

// do runs fn on the control actor and waits for its result.
func do[T any](c *Conn, fn func() (T, error)) (T, error) {
	var zero T
	req := request{
		fn:    func() (any, error) { return fn() },
		reply: make(chan result, 1),
	}
	select {
	case c.reqs <- req:
	case <-time.After(reqTimeout):
		return zero, errcode.Timeout
	}
	select {
	case res := <-req.reply:
		if res.err != nil {
			return zero, res.err
		}
		return res.val.(T), nil
	case <-time.After(reqTimeout):
		return zero, errcode.Timeout
	}
}

func doErr(c *Conn, fn func() error) error {
	_, err := do(c, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// ------------------------
// Lifecycle
// ------------------------

// ID reports the connection id.
func (c *Conn) ID() int { return c.id }

// Peer reports the UDP endpoint samples are sent to.
func (c *Conn) Peer() *net.UDPAddr { return c.peer }

// State reports the acquisition state.
func (c *Conn) State() AcqState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// start arms the chosen front-end and spawns the egress loop.
func (c *Conn) start(fe *adc.Frontend, depth int) error {
	c.mu.Lock()
	if c.state != Inactive {
		c.mu.Unlock()
		return errcode.Conflict
	}
	cfg := c.cfg
	c.mu.Unlock()

	sock, err := net.DialUDP("udp4", nil, c.peer)
	if err != nil {
		return errcode.Wrap(errcode.Hardware, "stream", err)
	}

	size := 4 // double-buffer count with headroom
	for size < depth {
		size <<= 1
	}
	ring := spsc.New[*adc.Buffer](size)

	if err := fe.RegisterCapture(func(b *adc.Buffer) {
		if !ring.TryPush(b) {
			// Full descriptor queue kills the whole acquisition.
			b.Release()
			c.failAsync(errcode.Exhausted)
		}
	}); err != nil {
		sock.Close()
		return err
	}
	fe.OnFault(func(err error) { c.failAsync(err) })

	if err := fe.Start(cfg); err != nil {
		sock.Close()
		return err
	}

	ectx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.fe = fe
	c.backend = fe.ID()
	c.ring = ring
	c.sock = sock
	c.egressCancel = cancel
	c.egressDone = done
	c.state = Active
	c.failing.Store(false)
	c.mu.Unlock()

	go c.egress(ectx, ring, sock, done)
	c.log.Infof("acquisition started, %s back-end -> %s", fe.ID(), c.peer)
	return nil
}

// stop halts the acquisition; on a Failed connection it acts as the
// explicit re-init that clears the error state.
func (c *Conn) stop() error {
	c.mu.Lock()
	state := c.state
	fe := c.fe
	c.mu.Unlock()

	switch state {
	case Inactive:
		return errcode.Conflict
	case Failed:
		// Explicit re-init: clear the back-end fault and go idle.
		if fe != nil {
			if err := fe.Init(); err != nil {
				return err
			}
		}
		c.mu.Lock()
		c.state = Inactive
		c.mu.Unlock()
		return nil
	}

	if err := fe.Stop(); err != nil && err != errcode.Conflict {
		return err
	}
	c.stopEgress()
	c.mu.Lock()
	c.state = Inactive
	c.fe = nil
	c.mu.Unlock()
	c.log.Infof("acquisition stopped")
	return nil
}

func (c *Conn) stopEgress() {
	c.mu.Lock()
	cancel, done, ring, sock := c.egressCancel, c.egressDone, c.ring, c.sock
	c.egressCancel, c.egressDone, c.ring, c.sock = nil, nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if ring != nil {
		for {
			b, ok := ring.TryPop()
			if !ok {
				break
			}
			b.Release()
		}
	}
	if sock != nil {
		sock.Close()
	}
}

// failAsync is called from producer context; it must not block.
func (c *Conn) failAsync(cause error) {
	if !c.failing.CompareAndSwap(false, true) {
		return
	}
	go c.enterError(cause)
}

func (c *Conn) enterError(cause error) {
	c.mu.Lock()
	fe := c.fe
	c.mu.Unlock()

	if fe != nil {
		if err := fe.Stop(); err != nil && err != errcode.Conflict {
			c.log.Warnf("stop after failure: %v", err)
		}
	}
	c.stopEgress()

	c.mu.Lock()
	c.state = Failed
	c.mu.Unlock()
	c.log.Errorf("acquisition failed: %v", cause)
	if c.onError != nil {
		c.onError(c, cause)
	}
}

func (c *Conn) teardown() {
	c.mu.Lock()
	state := c.state
	fe := c.fe
	c.mu.Unlock()
	if state == Active && fe != nil {
		fe.Stop()
		c.stopEgress()
	}
}

// ------------------------
// Egress
// ------------------------

// egress drains the descriptor queue in strict producer order: encode,
// snapshot, send, release. A failed send still returns the buffer; a lost
// datagram is the host's problem.
func (c *Conn) egress(ctx context.Context, ring *spsc.Ring[*adc.Buffer], sock *net.UDPConn, done chan struct{}) {
	defer close(done)
	for {
		b, ok := ring.Pop(ctx)
		if !ok {
			return
		}
		data := b.Bytes()

		c.mu.Lock()
		for i := 0; i < 4 && i < len(b.Ch1); i++ {
			c.last[0][i] = b.Ch1[i]
			c.last[1][i] = b.Ch2[i]
		}
		c.mu.Unlock()

		if _, err := sock.Write(data); err != nil {
			c.log.Warnf("send seq %d: %v", b.Seq, err)
		}
		b.Release()
	}
}

// LastSamples snapshots the first 4 samples of each channel from the most
// recent datagram.
func (c *Conn) LastSamples() [2][4]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// ------------------------
// Configuration (actor-routed)
// ------------------------

// setCfg mutates the configuration, rejecting writes while acquiring.
func (c *Conn) setCfg(mut func(*adc.Config) error) error {
	return doErr(c, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Active {
			return errcode.Conflict
		}
		return mut(&c.cfg)
	})
}

func getCfg[T any](c *Conn, get func(adc.Config) T) (T, error) {
	return do(c, func() (T, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return get(c.cfg), nil
	})
}

func (c *Conn) SetResolution(bits uint8) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetResolution(bits) })
}

func (c *Conn) Resolution() (uint8, error) {
	return getCfg(c, func(cfg adc.Config) uint8 { return cfg.Resolution })
}

func (c *Conn) SetClockDiv(div uint16) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetClockDiv(div) })
}

func (c *Conn) ClockDiv() (uint16, error) {
	return getCfg(c, func(cfg adc.Config) uint16 { return cfg.ClockDiv })
}

func (c *Conn) SetSampleTime(ch int, cycles float64) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetSampleTime(ch, cycles) })
}

func (c *Conn) SampleTime(ch int) (float64, error) {
	if ch < 0 || ch > 1 {
		return 0, errcode.Range
	}
	return getCfg(c, func(cfg adc.Config) float64 { return cfg.SampleTime[ch] })
}

func (c *Conn) SetOffset(ch int, off int32) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetOffset(ch, off) })
}

func (c *Conn) Offset(ch int) (int32, error) {
	if ch < 0 || ch > 1 {
		return 0, errcode.Range
	}
	return getCfg(c, func(cfg adc.Config) int32 { return cfg.Offset[ch] })
}

func (c *Conn) SetAveraging(ch int, ratio uint16) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetAveraging(ch, ratio) })
}

func (c *Conn) Averaging(ch int) (uint16, error) {
	if ch < 0 || ch > 1 {
		return 0, errcode.Range
	}
	return getCfg(c, func(cfg adc.Config) uint16 { return cfg.Averaging[ch] })
}

func (c *Conn) SetSamplingPeriod(prescaler uint16, period uint32) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetSamplingPeriod(prescaler, period) })
}

func (c *Conn) SamplingPeriod() (time.Duration, error) {
	return getCfg(c, func(cfg adc.Config) time.Duration { return cfg.SamplingPeriod() })
}

func (c *Conn) SetSamplesPerBuffer(n uint32) error {
	return c.setCfg(func(cfg *adc.Config) error { return cfg.SetSamplesPerBuffer(n) })
}

func (c *Conn) SamplesPerBuffer() (uint32, error) {
	return getCfg(c, func(cfg adc.Config) uint32 { return cfg.SamplesPerBuffer })
}

// Config snapshots the whole configuration (debug reads may bypass the
// actor; this one goes through it for a consistent view).
func (c *Conn) Config() (adc.Config, error) {
	return getCfg(c, func(cfg adc.Config) adc.Config { return cfg })
}
