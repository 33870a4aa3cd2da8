package adc

import (
	"math/bits"
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/x/mathx"

	"acqdevice-go/types"
)

// ExternalPorts are the control lines of the external back-end.
type ExternalPorts struct {
	Ready      types.GPIOPin // conversion-ready line (input)
	ChipSelect types.GPIOPin // active low
	PowerDown  types.GPIOPin // active high
}

// externalBackend is the 24-bit simultaneous-sampling ADC. Its CONVST pin is
// shared between config mode (plain GPIO) and acquisition mode (timer
// output), so arming re-binds pins in a fixed order.
type externalBackend struct {
	src    SignalSource
	ports  ExternalPorts
	inCfg  bool // config-mode pins currently bound
	active bool
}

// arm runs the acquisition start sequence:
//
//  1. tear down config-mode pins
//  2. re-bind CONVST as a timer output and debounce ~1 ms
//  3. if the ready line is asserted, pulse chip-select to reset the
//     conversion the back-end thinks is pending
//  4. attach both RX-only slave SPI channels in double-buffer mode
//  5. start the CS, SCLK and CONVST timers, CS first so framing is
//     established before any clock edge
func (b *externalBackend) arm(cfg Config) error {
	if b.active {
		return errcode.Conflict
	}
	b.inCfg = false

	// CONVST is now a timer pin; let the line settle.
	time.Sleep(time.Millisecond)

	if b.ports.Ready.Get() {
		// An in-flux CONVST was taken as a conversion start; a CS pulse
		// discards it.
		b.ports.ChipSelect.Set(false)
		b.ports.ChipSelect.Set(true)
	}

	// Dual SPI RX double-buffer setup and CS -> SCLK -> CONVST timer start
	// collapse to flipping the producer on; the Frontend paces it at the
	// derived sampling period.
	b.active = true
	return nil
}

// disarm is a hard reset: timers stop in reverse order, SPI and DMA are
// deinitialised, and the power-down pin is cycled before config mode
// returns.
func (b *externalBackend) disarm() {
	b.active = false
	b.ports.PowerDown.Set(true)
	b.ports.PowerDown.Set(false)
	b.inCfg = true
}

// fill converts one buffer: the SPI words arrive big-endian and are
// byte-swapped to little-endian; per-channel averaging and offsets apply as
// on the internal back-end, at the full 16-bit wire width.
func (b *externalBackend) fill(cfg Config, buf *Buffer) {
	avg1 := uint32(cfg.Averaging[0])
	avg2 := uint32(cfg.Averaging[1])
	draws := mathx.Max(avg1, avg2)

	for i := range buf.Ch1 {
		var acc1, acc2 uint64
		for k := uint32(0); k < draws; k++ {
			v1, v2 := b.src.Next()
			if k < avg1 {
				acc1 += uint64(bits.ReverseBytes16(v1))
			}
			if k < avg2 {
				acc2 += uint64(bits.ReverseBytes16(v2))
			}
		}
		s1 := int64(mathx.RoundDiv(acc1, uint64(avg1))) + int64(cfg.Offset[0])
		s2 := int64(mathx.RoundDiv(acc2, uint64(avg2))) + int64(cfg.Offset[1])
		buf.Ch1[i] = uint16(mathx.Clamp(s1, 0, 0xFFFF))
		buf.Ch2[i] = uint16(mathx.Clamp(s2, 0, 0xFFFF))
	}
}
