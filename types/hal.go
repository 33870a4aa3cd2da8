package types

// ------------------------
// Hardware ports
// ------------------------
//
// The daemon never touches silicon directly: every line it drives or
// observes is one of these narrow ports. The platform package provides
// software implementations; an on-target build would provide pin-backed
// ones.

// GPIOPin is a single digital line.
type GPIOPin interface {
	Set(level bool)
	Get() bool
}

// Edge selects which transitions an IRQPin reports.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// IRQPin is an input line with edge notification. The callback runs in the
// producer's context and MUST NOT block; treat it like an interrupt handler.
type IRQPin interface {
	Get() bool
	SetInterrupt(edge Edge, fn func(level bool)) error
	ClearInterrupt()
}

// DACPort is a single digital-to-analog output channel.
type DACPort interface {
	SetEnabled(on bool)
	Enabled() bool
	SetCode(code uint16)
	Code() uint16
}

// PWMPort is one compare channel of a PWM timer, 8-bit resolution.
type PWMPort interface {
	SetLevel(level uint8)
	Level() uint8
}

// LinkMonitor reports PHY link transitions. States() yields the current
// state first, then every change.
type LinkMonitor interface {
	States() <-chan bool // true = up
}
