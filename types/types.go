package types

// ------------------------
// Status-link framing
// ------------------------

// StatusKind is the single-byte frame prefix on a status link.
type StatusKind uint8

const (
	StatusInfo   StatusKind = 0
	StatusAction StatusKind = 1
)

// ------------------------
// System events (bus payloads)
// ------------------------

// Severity grades a component error for the supervisor.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityLow
	SeverityFatal
)

// SysError is published on {"system","error"} when a component reaches an
// unrecoverable state. The supervisor suspends that component only.
type SysError struct {
	Service  string
	Severity Severity
	Detail   string
}

// LinkEvent is published retained on {"net","link"}.
type LinkEvent struct {
	Up bool
}

// RGBSet is published on {"rgb","set"}; levels are 8-bit.
type RGBSet struct {
	R, G, B uint8
}

// BreakpointHit pairs a producer sequence number with a host-supplied tag.
type BreakpointHit struct {
	ID   uint32
	Name string // includes the terminating CR
}
