package errcode

import "strconv"

// Code is a stable, wire-facing numeric error identifier. Control-plane
// responses carry it verbatim as "ERROR <code>". It is comparable,
// allocation-free, and implements error.
type Code uint16

func (c Code) Error() string { return "error " + strconv.Itoa(int(c)) }

// String returns the bare decimal form used on the wire.
func (c Code) String() string { return strconv.Itoa(int(c)) }

// Canonical codes. Conflict is 0 for compatibility with deployed hosts,
// which expect "ERROR 0" when an operation is rejected by its target.
const (
	Conflict    Code = 0 // state forbids the operation (e.g. set while acquiring)
	Unknown     Code = 1 // unrecognised command
	InvalidArgs Code = 2 // missing or malformed argument
	NotFound    Code = 3 // no such stream/link/chunk id
	Range       Code = 4 // value outside the legal set
	Exhausted   Code = 5 // table or queue full
	Timeout     Code = 6 // blocking call expired
	Hardware    Code = 7 // back-end or bus unresponsive
	Internal    Code = 8 // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + e.Msg
	}
	return e.Op + ": error " + e.C.String()
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Internal.
func Of(err error) Code {
	if err == nil {
		return Code(0)
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Internal
}

// Wrap builds an E carrying op context around err.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}
