// Package adc abstracts the two acquisition front-ends: the internal 16-bit
// ADC with double-buffered DMA and the external 24-bit simultaneous-sampling
// ADC framed by timer-generated CS/SCLK/CONVST waveforms. Off-target builds
// drive both from injected signal sources with identical timing semantics.
package adc

import (
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/x/timex"
)

// BackendID selects a front-end per acquisition.
type BackendID uint8

const (
	Internal BackendID = 0
	External BackendID = 1
)

func (b BackendID) String() string {
	if b == External {
		return "external"
	}
	return "internal"
}

// Marker returns the datagram marker word for a back-end (0xADC0 family).
func Marker(b BackendID) uint16 { return 0xADC0 | uint16(b) }

const (
	// TimerClockHz is the input clock of the sampling trigger timer.
	TimerClockHz = 108_000_000

	// MaxSamplesPerBuffer is half the DMA region, in paired samples.
	MaxSamplesPerBuffer = 2048

	// MinSamplingPeriod is the shortest legal conversion interval.
	MinSamplingPeriod = time.Microsecond

	// ConvstDutyPct is the fixed CONVST duty, rounded up to >= 1 tick.
	ConvstDutyPct = 5
)

var (
	resolutions = []uint8{10, 12, 14, 16}
	clockDivs   = []uint16{1, 2, 4, 8, 16, 32, 64, 128, 256}
	sampleTimes = []float64{1.5, 2.5, 8.5, 16.5, 32.5, 64.5, 387.5, 810.5}
)

// Config is one acquisition's front-end setup. Resolution applies to both
// channels; sample time, offset and averaging are per-channel.
type Config struct {
	Resolution       uint8
	ClockDiv         uint16
	SampleTime       [2]float64
	Offset           [2]int32
	Averaging        [2]uint16
	Prescaler        uint16
	Period           uint32
	SamplesPerBuffer uint32
}

// DefaultConfig matches the power-on register state.
func DefaultConfig() Config {
	return Config{
		Resolution:       16,
		ClockDiv:         4,
		SampleTime:       [2]float64{8.5, 8.5},
		Averaging:        [2]uint16{1, 1},
		Prescaler:        107,
		Period:           9, // 108 ticks * 10 / 108 MHz = 10 us
		SamplesPerBuffer: 512,
	}
}

// ------------------------
// Setters (validating)
// ------------------------

func (c *Config) SetResolution(bits uint8) error {
	for _, r := range resolutions {
		if r == bits {
			c.Resolution = bits
			return nil
		}
	}
	return errcode.Range
}

func (c *Config) SetClockDiv(div uint16) error {
	for _, d := range clockDivs {
		if d == div {
			c.ClockDiv = div
			return nil
		}
	}
	return errcode.Range
}

func (c *Config) SetSampleTime(ch int, cycles float64) error {
	if ch < 0 || ch > 1 {
		return errcode.Range
	}
	for _, s := range sampleTimes {
		if s == cycles {
			c.SampleTime[ch] = cycles
			return nil
		}
	}
	return errcode.Range
}

func (c *Config) SetOffset(ch int, offset int32) error {
	if ch < 0 || ch > 1 {
		return errcode.Range
	}
	c.Offset[ch] = offset
	return nil
}

func (c *Config) SetAveraging(ch int, ratio uint16) error {
	if ch < 0 || ch > 1 || ratio < 1 || ratio > 1024 {
		return errcode.Range
	}
	c.Averaging[ch] = ratio
	return nil
}

// SetSamplingPeriod derives the conversion interval from timer settings.
// Requests below 1 us fail without altering state.
func (c *Config) SetSamplingPeriod(prescaler uint16, period uint32) error {
	if timex.TimerPeriod(TimerClockHz, prescaler, period) < MinSamplingPeriod {
		return errcode.Range
	}
	c.Prescaler = prescaler
	c.Period = period
	return nil
}

func (c *Config) SetSamplesPerBuffer(n uint32) error {
	if n < 1 || n > MaxSamplesPerBuffer {
		return errcode.Range
	}
	c.SamplesPerBuffer = n
	return nil
}

// ------------------------
// Derived values
// ------------------------

// SamplingPeriod is (p+1)(N+1)/f for the trigger timer.
func (c Config) SamplingPeriod() time.Duration {
	return timex.TimerPeriod(TimerClockHz, c.Prescaler, c.Period)
}

// ConvstTicks returns the CONVST compare value for the fixed 5 % duty.
func (c Config) ConvstTicks() uint32 {
	return timex.DutyTicks(c.Period, ConvstDutyPct)
}

// BufferPeriod is the interval between half-buffer completions.
func (c Config) BufferPeriod() time.Duration {
	return c.SamplingPeriod() * time.Duration(c.SamplesPerBuffer)
}

// Validate checks the whole configuration at acquisition start.
func (c Config) Validate() error {
	probe := c
	if err := probe.SetResolution(c.Resolution); err != nil {
		return err
	}
	if err := probe.SetClockDiv(c.ClockDiv); err != nil {
		return err
	}
	for ch := 0; ch < 2; ch++ {
		if err := probe.SetSampleTime(ch, c.SampleTime[ch]); err != nil {
			return err
		}
		if err := probe.SetAveraging(ch, c.Averaging[ch]); err != nil {
			return err
		}
	}
	if err := probe.SetSamplingPeriod(c.Prescaler, c.Period); err != nil {
		return err
	}
	return probe.SetSamplesPerBuffer(c.SamplesPerBuffer)
}
