package adc

import (
	"sync"
	"testing"
	"time"

	"acqdevice-go/errcode"
)

// countingSource yields a deterministic ramp on ch1 and a constant on ch2.
type countingSource struct {
	mu sync.Mutex
	n  uint16
}

func (s *countingSource) Next() (uint16, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n, 0x8000
}

// fakePin records transitions.
type fakePin struct {
	mu     sync.Mutex
	level  bool
	writes []bool
}

func (p *fakePin) Set(l bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
	p.writes = append(p.writes, l)
}
func (p *fakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.SamplesPerBuffer = 16
	return cfg
}

func TestStartRequiresInit(t *testing.T) {
	fe := NewInternal(&countingSource{})
	if err := fe.Start(smallConfig()); err != errcode.Conflict {
		t.Fatalf("Start on DOWN back-end: %v, want conflict", err)
	}
}

func TestCaptureSequenceMonotonic(t *testing.T) {
	fe := NewInternal(&countingSource{})
	if err := fe.Init(); err != nil {
		t.Fatal(err)
	}

	got := make(chan uint32, 16)
	err := fe.RegisterCapture(func(b *Buffer) {
		got <- b.Seq
		b.Release()
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}
	defer fe.Stop()

	for want := uint32(0); want < 3; want++ {
		select {
		case seq := <-got:
			if seq != want {
				t.Fatalf("seq = %d, want %d", seq, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no buffer %d within 1s", want)
		}
	}
}

func TestStopQuiesces(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()
	var mu sync.Mutex
	count := 0
	fe.RegisterCapture(func(b *Buffer) {
		mu.Lock()
		count++
		mu.Unlock()
		b.Release()
	})
	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := fe.Stop(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != after {
		t.Fatalf("buffers still produced after Stop: %d -> %d", after, count)
	}
	if fe.State() != StateConfig {
		t.Fatalf("state = %v, want config", fe.State())
	}
}

func TestOverrunFaultsBackend(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()

	faults := make(chan error, 1)
	fe.OnFault(func(err error) { faults <- err })
	// Never release: the producer must hit a still-owned half and stop.
	fe.RegisterCapture(func(b *Buffer) {})
	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-faults:
	case <-time.After(time.Second):
		t.Fatal("no fault despite unreleased buffers")
	}
	if !fe.Faulted() {
		t.Fatal("back-end not marked faulted")
	}
	if err := fe.Start(smallConfig()); err != errcode.Conflict {
		t.Fatalf("Start on faulted back-end: %v, want conflict", err)
	}
	// Explicit re-init clears the fault.
	if err := fe.Init(); err != nil {
		t.Fatal(err)
	}
	if fe.Faulted() {
		t.Fatal("fault survived re-init")
	}
}

func TestCaptureMarkerOneShot(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()

	if _, err := fe.SetCaptureMarker(); err != errcode.Conflict {
		t.Fatalf("marker while idle: %v, want conflict", err)
	}

	type hit struct {
		seq uint32
		ebp uint16
	}
	got := make(chan hit, 16)
	fe.RegisterCapture(func(b *Buffer) {
		got <- hit{b.Seq, b.EBP}
		b.Release()
	})
	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}
	defer fe.Stop()

	want, err := fe.SetCaptureMarker()
	if err != nil {
		t.Fatal(err)
	}

	flagged := 0
	deadline := time.After(time.Second)
	for i := 0; i < 5; i++ {
		select {
		case h := <-got:
			if h.ebp == 1 {
				flagged++
				if h.seq != want {
					t.Fatalf("flagged seq = %d, marker returned %d", h.seq, want)
				}
			}
		case <-deadline:
			t.Fatal("timed out collecting buffers")
		}
	}
	if flagged != 1 {
		t.Fatalf("ebp_flag on %d buffers, want exactly 1", flagged)
	}
}

func TestValueWhileActiveFails(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()
	fe.RegisterCapture(func(b *Buffer) { b.Release() })
	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}
	defer fe.Stop()
	if _, err := fe.Value(smallConfig(), 0); err != errcode.Conflict {
		t.Fatalf("Value while active: %v, want conflict", err)
	}
}

func TestValueAveragesChannel(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()

	cfg := smallConfig()
	cfg.Resolution = 16
	v, err := fe.Value(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	// ch2 is a constant 0x8000 at full resolution.
	if v != 0x8000 {
		t.Fatalf("value = 0x%04X, want 0x8000", v)
	}
}

func TestInternalResolutionAndOffset(t *testing.T) {
	fe := NewInternal(&countingSource{})
	fe.Init()

	cfg := smallConfig()
	cfg.Resolution = 12
	cfg.Offset[1] = 5
	v, err := fe.Value(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	// 0x8000 >> 4 = 0x800, plus offset 5.
	if v != 0x805 {
		t.Fatalf("value = 0x%04X, want 0x0805", v)
	}
}

func TestExternalArmClearsPendingReady(t *testing.T) {
	ready := &fakePin{level: true}
	cs := &fakePin{level: true}
	pd := &fakePin{}
	src := &countingSource{}

	fe := NewExternal(src, ExternalPorts{Ready: ready, ChipSelect: cs, PowerDown: pd})
	fe.Init()
	fe.RegisterCapture(func(b *Buffer) { b.Release() })

	if err := fe.Start(smallConfig()); err != nil {
		t.Fatal(err)
	}
	// Asserted ready line means a conversion was mis-triggered while the
	// CONVST pin was in flux; the CS pulse discards it.
	cs.mu.Lock()
	writes := append([]bool(nil), cs.writes...)
	cs.mu.Unlock()
	if len(writes) < 2 || writes[0] != false || writes[1] != true {
		t.Fatalf("chip-select pulse writes = %v, want low/high", writes)
	}

	if err := fe.Stop(); err != nil {
		t.Fatal(err)
	}
	// Stop is a hard reset: the power-down pin must have been cycled.
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if len(pd.writes) < 2 || pd.writes[0] != true || pd.writes[1] != false {
		t.Fatalf("power-down writes = %v, want high/low", pd.writes)
	}
}
