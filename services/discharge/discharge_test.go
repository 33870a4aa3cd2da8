package discharge

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acqdevice-go/errcode"
	"acqdevice-go/services/statuslink"
	"acqdevice-go/types"
)

// ------------------------
// fakes
// ------------------------

type fakePin struct {
	mu     sync.Mutex
	level  bool
	writes []bool
}

func (p *fakePin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	p.writes = append(p.writes, level)
}

func (p *fakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

type fakeIRQ struct {
	mu    sync.Mutex
	level bool
	fn    func(level bool)
}

func (p *fakeIRQ) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakeIRQ) SetInterrupt(_ types.Edge, fn func(level bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
	return nil
}

func (p *fakeIRQ) ClearInterrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = nil
}

func (p *fakeIRQ) fire(level bool) {
	p.mu.Lock()
	p.level = level
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

type fakeDAC struct {
	mu   sync.Mutex
	on   bool
	code uint16
}

func (d *fakeDAC) SetEnabled(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
}

func (d *fakeDAC) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

func (d *fakeDAC) SetCode(code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.code = code
}

func (d *fakeDAC) Code() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

type rig struct {
	ctl              *Controller
	dac              *fakeDAC
	load, bat, ppath *fakePin
	latchReset       *fakePin
	uv, ov, oc       *fakeIRQ
}

func newRig(t *testing.T, status *statuslink.Registry) *rig {
	t.Helper()
	r := &rig{
		dac:        &fakeDAC{},
		load:       &fakePin{},
		bat:        &fakePin{},
		ppath:      &fakePin{},
		latchReset: &fakePin{},
		uv:         &fakeIRQ{},
		ov:         &fakeIRQ{},
		oc:         &fakeIRQ{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctl, err := New(ctx, Ports{
		DAC:        r.dac,
		Load:       r.load,
		Bat:        r.bat,
		PPath:      r.ppath,
		LatchReset: r.latchReset,
		UV:         r.uv,
		OV:         r.ov,
		OC:         r.oc,
	}, status)
	require.NoError(t, err)
	r.ctl = ctl
	return r
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ------------------------
// chunk parsing
// ------------------------

func TestParseChunk(t *testing.T) {
	ch, err := ParseChunk("1000,0.1,50,0.2,3;")
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), ch.Base)
	assert.InDelta(t, 0.1, ch.BaseDev, 1e-6)
	assert.Equal(t, uint32(50), ch.DurationMS)
	assert.InDelta(t, 0.2, ch.DurationDev, 1e-6)
	assert.Equal(t, uint32(3), ch.Repeat)
}

func TestParseChunkRejects(t *testing.T) {
	for _, spec := range []string{
		"1000,0,50,0,3",    // missing terminator
		"1000,0,50,3;",     // wrong field count
		"1000,0,0,0,3;",    // zero duration
		"1000,0,50,0,0;",   // zero repetitions
		"x,0,50,0,3;",      // not a number
		"",
	} {
		_, err := ParseChunk(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

// ------------------------
// wave interpreter
// ------------------------

func TestStartWaveNeedsTwoChunks(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.ctl.AddChunk("1000,0,20,0,1;"))
	assert.Equal(t, errcode.Conflict, r.ctl.StartWave())

	require.NoError(t, r.ctl.AddChunk("0,0,20,0,1;"))
	require.NoError(t, r.ctl.StartWave())
	require.NoError(t, r.ctl.StopWave())
}

func TestClearWaveRejectedWhileActive(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.ctl.AddChunk("1000,0,20,0,1;"))
	require.NoError(t, r.ctl.AddChunk("500,0,20,0,1;"))
	require.NoError(t, r.ctl.StartWave())

	assert.Equal(t, errcode.Conflict, r.ctl.ClearWave())

	require.NoError(t, r.ctl.StopWave())
	require.NoError(t, r.ctl.ClearWave())
	assert.Equal(t, 0, r.ctl.ChunkCount())
}

func TestWaveDrivesOutputs(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.ctl.AddChunk("1234,0,500,0,1;"))
	require.NoError(t, r.ctl.AddChunk("0,0,500,0,1;"))
	require.NoError(t, r.ctl.StartWave())

	waitFor(t, func() bool {
		return r.dac.Enabled() && r.ctl.LoadEnabled()
	}, "first chunk applied")
	assert.Equal(t, uint16(1234), r.dac.Code())

	require.NoError(t, r.ctl.StopWave())
	assert.False(t, r.ctl.WaveActive())
	assert.False(t, r.ctl.LoadEnabled())
	assert.False(t, r.dac.Enabled())
	assert.Equal(t, errcode.Conflict, r.ctl.StopWave())
}

func TestWaveAdvancesChunks(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.ctl.AddChunk("100,0,5,0,1;"))
	require.NoError(t, r.ctl.AddChunk("200,0,500,0,1;"))
	require.NoError(t, r.ctl.StartWave())

	waitFor(t, func() bool { return r.dac.Code() == 200 }, "second chunk")
	require.NoError(t, r.ctl.StopWave())
}

// ------------------------
// hardware setters
// ------------------------

func TestSwitchesAndDAC(t *testing.T) {
	r := newRig(t, nil)

	r.ctl.SetDACValue(0x0ABC)
	assert.Equal(t, uint16(0x0ABC), r.ctl.DACValue())
	r.ctl.EnableDAC(true)
	assert.True(t, r.ctl.DACEnabled())

	// The load line is enabled-low.
	r.ctl.SetLoad(true)
	assert.True(t, r.ctl.LoadEnabled())
	assert.False(t, r.load.Get())
	r.ctl.SetLoad(false)
	assert.True(t, r.load.Get())

	r.ctl.SetBat(true)
	assert.True(t, r.ctl.BatEnabled())
	r.ctl.SetPPath(true)
	assert.True(t, r.ctl.PPathEnabled())
}

func TestLatchTriggerPulsesReset(t *testing.T) {
	r := newRig(t, nil)
	start := time.Now()
	r.ctl.LatchTrigger()
	elapsed := time.Since(start)

	r.latchReset.mu.Lock()
	writes := append([]bool(nil), r.latchReset.writes...)
	r.latchReset.mu.Unlock()
	require.Equal(t, []bool{true, false}, writes)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}

// ------------------------
// protection
// ------------------------

// statusRig accepts one status link on a loopback listener and exposes the
// frames it receives.
type statusRig struct {
	reg *statuslink.Registry

	mu     sync.Mutex
	frames [][]byte
}

func newStatusRig(t *testing.T) *statusRig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &statusRig{reg: statuslink.NewRegistry(4, 16)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 2048)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, append([]byte(nil), buf[:n]...))
			s.mu.Unlock()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	addr := ln.Addr().(*net.TCPAddr)
	id, err := s.reg.Create(ctx, "127.0.0.1", addr.Port)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	// Wait for the session before sending anything.
	waitFor(t, func() bool {
		l, err := s.reg.Link(0)
		return err == nil && l.State() == statuslink.LinkUp
	}, "status link up")
	return s
}

func (s *statusRig) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func TestUnderVoltageStopsWaveAndNotifies(t *testing.T) {
	status := newStatusRig(t)
	r := newRig(t, status.reg)

	require.NoError(t, r.ctl.AddChunk("1000,0,500,0,1;"))
	require.NoError(t, r.ctl.AddChunk("500,0,500,0,1;"))
	require.NoError(t, r.ctl.StartWave())
	waitFor(t, func() bool { return r.ctl.LoadEnabled() }, "wave running")

	r.uv.fire(true)

	waitFor(t, func() bool { return !r.ctl.WaveActive() }, "wave stopped")
	assert.True(t, r.ctl.UnderVoltage())
	assert.False(t, r.ctl.LoadEnabled())
	assert.False(t, r.dac.Enabled())

	want := append([]byte{byte(types.StatusAction)}, []byte("uvoltage enabled\r\n")...)
	waitFor(t, func() bool { return len(status.received()) == 1 }, "one action frame")
	assert.Equal(t, want, status.received()[0])

	// A repeated edge at the latched level is not re-reported.
	r.uv.fire(true)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, status.received(), 1)

	// The falling edge clears the latch and is reported.
	r.uv.fire(false)
	waitFor(t, func() bool { return len(status.received()) == 2 }, "release frame")
	assert.False(t, r.ctl.UnderVoltage())
	want = append([]byte{byte(types.StatusAction)}, []byte("uvoltage disabled\r\n")...)
	assert.Equal(t, want, status.received()[1])
}

func TestOverVoltageReportsWithoutStopping(t *testing.T) {
	status := newStatusRig(t)
	r := newRig(t, status.reg)

	require.NoError(t, r.ctl.AddChunk("1000,0,500,0,1;"))
	require.NoError(t, r.ctl.AddChunk("500,0,500,0,1;"))
	require.NoError(t, r.ctl.StartWave())
	waitFor(t, func() bool { return r.ctl.LoadEnabled() }, "wave running")

	r.ov.fire(true)

	waitFor(t, func() bool { return r.ctl.OverVoltage() }, "ov latch")
	waitFor(t, func() bool { return len(status.received()) == 1 }, "ov frame")
	want := append([]byte{byte(types.StatusAction)}, []byte("ovoltage enabled\r\n")...)
	assert.Equal(t, want, status.received()[0])
	assert.True(t, r.ctl.WaveActive())

	require.NoError(t, r.ctl.StopWave())
}

func TestOverCurrentForcesLoadOffWhenIdle(t *testing.T) {
	r := newRig(t, nil)
	r.ctl.SetLoad(true)
	r.ctl.EnableDAC(true)

	r.oc.fire(true)

	waitFor(t, func() bool { return r.ctl.OverCurrent() }, "oc latch")
	waitFor(t, func() bool { return !r.ctl.LoadEnabled() && !r.dac.Enabled() }, "outputs off")
}
