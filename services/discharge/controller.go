// Package discharge drives the programmable load: DAC code plus the
// load/battery/power-path switch network, the chained waveform interpreter,
// and the UV/OV/OC protection latches.
package discharge

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/services/statuslink"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
	"acqdevice-go/x/spsc"
	"acqdevice-go/x/timex"
)

// Ports are the hardware lines the controller owns.
type Ports struct {
	DAC        types.DACPort
	Load       types.GPIOPin // enabled-low
	Bat        types.GPIOPin
	PPath      types.GPIOPin
	LatchReset types.GPIOPin
	UV         types.IRQPin
	OV         types.IRQPin
	OC         types.IRQPin
}

// protKind indexes the three protection latches.
type protKind uint8

const (
	protUV protKind = iota
	protOV
	protOC
)

func (k protKind) name() string {
	switch k {
	case protUV:
		return "uvoltage"
	case protOV:
		return "ovoltage"
	default:
		return "ocurrent"
	}
}

type protEvent struct {
	kind  protKind
	level bool
}

// Controller owns the discharge hardware. Hardware setters are synchronous:
// the caller's request is applied and acknowledged before return.
type Controller struct {
	log    *logx.Logger
	ports  Ports
	status *statuslink.Registry

	mu    sync.Mutex
	arena arena

	waveActive atomic.Bool
	waveCancel context.CancelFunc
	waveDone   chan struct{}

	latch [3]atomic.Bool

	events *spsc.Ring[protEvent]
}

// New wires the controller and arms the protection edge watchers.
// status may be nil in tests without a fan-out.
func New(ctx context.Context, ports Ports, status *statuslink.Registry) (*Controller, error) {
	c := &Controller{
		log:    logx.New("discharge"),
		ports:  ports,
		status: status,
		events: spsc.New[protEvent](16),
	}
	// Power-on state: everything off.
	ports.Load.Set(true) // enabled-low
	ports.DAC.SetEnabled(false)

	for kind, pin := range map[protKind]types.IRQPin{protUV: ports.UV, protOV: ports.OV, protOC: ports.OC} {
		k := kind
		if err := pin.SetInterrupt(types.EdgeBoth, func(level bool) {
			// Interrupt context: hand off, never block.
			c.events.TryPush(protEvent{kind: k, level: level})
		}); err != nil {
			return nil, err
		}
	}
	go c.watch(ctx)
	return c, nil
}

// ------------------------
// DAC and switches
// ------------------------

func (c *Controller) SetDACValue(code uint16) {
	c.ports.DAC.SetCode(code)
}

func (c *Controller) DACValue() uint16 { return c.ports.DAC.Code() }

func (c *Controller) EnableDAC(on bool) {
	c.ports.DAC.SetEnabled(on)
}

func (c *Controller) DACEnabled() bool { return c.ports.DAC.Enabled() }

// SetLoad drives the load switch; the line is enabled-low.
func (c *Controller) SetLoad(enabled bool) {
	c.ports.Load.Set(!enabled)
}

func (c *Controller) LoadEnabled() bool { return !c.ports.Load.Get() }

func (c *Controller) SetBat(enabled bool)   { c.ports.Bat.Set(enabled) }
func (c *Controller) BatEnabled() bool      { return c.ports.Bat.Get() }
func (c *Controller) SetPPath(enabled bool) { c.ports.PPath.Set(enabled) }
func (c *Controller) PPathEnabled() bool    { return c.ports.PPath.Get() }

// LatchTrigger pulses the protection-reset pin: high 5 ms, then low.
func (c *Controller) LatchTrigger() {
	c.ports.LatchReset.Set(true)
	time.Sleep(5 * time.Millisecond)
	c.ports.LatchReset.Set(false)
}

// Protection latch snapshots.
func (c *Controller) UnderVoltage() bool { return c.latch[protUV].Load() }
func (c *Controller) OverVoltage() bool  { return c.latch[protOV].Load() }
func (c *Controller) OverCurrent() bool  { return c.latch[protOC].Load() }

// ------------------------
// Waveform interpreter
// ------------------------

// AddChunk appends one parsed chunk to the chain.
func (c *Controller) AddChunk(spec string) error {
	chunk, err := ParseChunk(spec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.add(chunk)
}

// ChunkCount reports the chain length.
func (c *Controller) ChunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.count
}

// ClearWave empties the chain. Rejected while a wave runs.
func (c *Controller) ClearWave() error {
	if c.waveActive.Load() {
		return errcode.Conflict
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arena.clear()
	return nil
}

// StartWave begins interpreting the chain on a 1 kHz tick. At least two
// chunks are required.
func (c *Controller) StartWave() error {
	c.mu.Lock()
	if c.waveActive.Load() {
		c.mu.Unlock()
		return errcode.Conflict
	}
	if c.arena.count < 2 {
		c.mu.Unlock()
		return errcode.Conflict
	}
	gen := c.arena.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.waveCancel = cancel
	c.waveDone = make(chan struct{})
	c.waveActive.Store(true)
	c.mu.Unlock()

	go c.runWave(ctx, gen)
	c.log.Infof("wave started, %d chunks", c.ChunkCount())
	return nil
}

// StopWave cancels the interpreter synchronously and forces the load off.
func (c *Controller) StopWave() error {
	c.mu.Lock()
	if !c.waveActive.Load() {
		c.mu.Unlock()
		return errcode.Conflict
	}
	cancel, done := c.waveCancel, c.waveDone
	c.mu.Unlock()

	cancel()
	<-done
	c.forceOff()
	c.log.Infof("wave stopped")
	return nil
}

// WaveActive reports whether the interpreter is running.
func (c *Controller) WaveActive() bool { return c.waveActive.Load() }

func (c *Controller) forceOff() {
	c.SetLoad(false)
	c.ports.DAC.SetEnabled(false)
}

// applyChunk drives the outputs for one chunk repetition. A zero base
// disables LOAD and DAC; a non-zero base enables both at the DAC code.
func (c *Controller) applyChunk(ch Chunk, rng *rand.Rand) uint32 {
	if ch.Base == 0 {
		c.SetLoad(false)
		c.ports.DAC.SetEnabled(false)
	} else {
		code := jitter(float32(ch.Base), ch.BaseDev, rng.Float32()*2-1)
		c.ports.DAC.SetCode(uint16(code))
		c.ports.DAC.SetEnabled(true)
		c.SetLoad(true)
	}
	dur := jitter(float32(ch.DurationMS), ch.DurationDev, rng.Float32()*2-1)
	if dur < 1 {
		dur = 1
	}
	return uint32(dur)
}

// runWave advances the chain on a 1 kHz tick, wrapping at the end. It exits
// when cancelled or when the chain generation it was started against is
// cleared away.
func (c *Controller) runWave(ctx context.Context, gen uint32) {
	defer close(c.waveDone)
	defer c.waveActive.Store(false)

	rng := rand.New(rand.NewSource(timex.NowMs()))
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	idx := 0
	rep := uint32(0)

	c.mu.Lock()
	ch, ok := c.arena.at(gen, idx)
	c.mu.Unlock()
	if !ok {
		return
	}
	target := c.applyChunk(ch, rng)
	elapsed := uint32(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		elapsed++
		if elapsed < target {
			continue
		}
		rep++
		if rep >= ch.Repeat {
			rep = 0
			c.mu.Lock()
			idx = c.arena.next(idx)
			ch, ok = c.arena.at(gen, idx)
			c.mu.Unlock()
			if !ok {
				c.forceOff()
				return
			}
		}
		target = c.applyChunk(ch, rng)
		elapsed = 0
	}
}

// ------------------------
// Protection
// ------------------------

// watch drains protection edges: it deduplicates against the latches, posts
// one ACTION message per real edge to status link 0, and stops a running
// wave on UV and OC. OV is reported but does not stop the wave.
func (c *Controller) watch(ctx context.Context) {
	for {
		ev, ok := c.events.Pop(ctx)
		if !ok {
			return
		}
		if c.latch[ev.kind].Load() == ev.level {
			continue // duplicate of the latched value
		}
		c.latch[ev.kind].Store(ev.level)

		state := "disabled"
		if ev.level {
			state = "enabled"
		}
		body := ev.kind.name() + " " + state + "\r\n"
		c.log.Infof("protection: %s %s", ev.kind.name(), state)
		if c.status != nil {
			c.status.TrySend(0, types.StatusAction, []byte(body))
		}

		if ev.level && (ev.kind == protUV || ev.kind == protOC) {
			if c.waveActive.Load() {
				if err := c.StopWave(); err != nil && err != errcode.Conflict {
					c.log.Warnf("stop wave on %s: %v", ev.kind.name(), err)
				}
			} else {
				c.forceOff()
			}
		}
	}
}
