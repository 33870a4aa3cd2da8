package timex

import (
	"time"

	"acqdevice-go/x/mathx"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// TimerPeriod returns the effective period of a hardware timer given its
// input clock, prescaler and auto-reload value: (p+1)(N+1)/f.
// freqHz==0 is coerced to 1 to avoid division by zero.
func TimerPeriod(freqHz uint32, prescaler uint16, period uint32) time.Duration {
	if freqHz == 0 {
		freqHz = 1
	}
	ticks := uint64(prescaler+1) * uint64(period+1)
	return time.Duration(ticks * uint64(time.Second) / uint64(freqHz))
}

// DutyTicks returns the compare value for a duty expressed in percent,
// rounded up to at least one tick.
func DutyTicks(period uint32, dutyPct uint32) uint32 {
	t := mathx.CeilDiv(uint64(period+1)*uint64(dutyPct), 100)
	if t == 0 {
		t = 1
	}
	return uint32(t)
}
