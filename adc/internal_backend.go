package adc

import (
	"acqdevice-go/x/mathx"
)

// internalBackend is the on-chip 16-bit ADC. Arming amounts to programming
// resolution/clock-div/sample-time and pointing the DMA at the double
// buffer; there is no pin choreography.
type internalBackend struct {
	src SignalSource
}

func (b *internalBackend) arm(cfg Config) error { return nil }

func (b *internalBackend) disarm() {}

// fill converts one buffer: raw words are truncated to the configured
// resolution, averaged per channel, then offset and clamped.
func (b *internalBackend) fill(cfg Config, buf *Buffer) {
	shift := uint(16 - cfg.Resolution)
	full := int32(1)<<cfg.Resolution - 1
	avg1 := uint32(cfg.Averaging[0])
	avg2 := uint32(cfg.Averaging[1])
	draws := mathx.Max(avg1, avg2)

	for i := range buf.Ch1 {
		var acc1, acc2 uint64
		for k := uint32(0); k < draws; k++ {
			v1, v2 := b.src.Next()
			if k < avg1 {
				acc1 += uint64(v1 >> shift)
			}
			if k < avg2 {
				acc2 += uint64(v2 >> shift)
			}
		}
		s1 := int32(mathx.RoundDiv(acc1, uint64(avg1))) + cfg.Offset[0]
		s2 := int32(mathx.RoundDiv(acc2, uint64(avg2))) + cfg.Offset[1]
		buf.Ch1[i] = uint16(mathx.Clamp(s1, 0, full))
		buf.Ch2[i] = uint16(mathx.Clamp(s2, 0, full))
	}
}
