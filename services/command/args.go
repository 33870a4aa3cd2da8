package command

import (
	"strconv"
	"strings"

	"acqdevice-go/errcode"
)

// Args holds the key=value tokens that follow a command path. Keys may
// carry a single leading dash, so "value=5" and "-value=5" are the same.
type Args map[string]string

func parseArgs(tokens []string) Args {
	a := make(Args, len(tokens))
	for _, tok := range tokens {
		if k, v, ok := strings.Cut(tok, "="); ok {
			a[strings.TrimPrefix(k, "-")] = v
		} else {
			a[strings.TrimPrefix(tok, "-")] = ""
		}
	}
	return a
}

// Str requires a key to be present.
func (a Args) Str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errcode.InvalidArgs
	}
	return v, nil
}

// Int requires a signed integer value.
func (a Args) Int(key string) (int64, error) {
	s, err := a.Str(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errcode.InvalidArgs
	}
	return v, nil
}

// Uint requires an unsigned integer value. Base is auto-detected so
// register addresses may be given as 0x…
func (a Args) Uint(key string) (uint64, error) {
	s, err := a.Str(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errcode.InvalidArgs
	}
	return v, nil
}

// Float requires a decimal value.
func (a Args) Float(key string) (float64, error) {
	s, err := a.Str(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errcode.InvalidArgs
	}
	return v, nil
}

// IntOr returns a default when the key is absent.
func (a Args) IntOr(key string, def int64) (int64, error) {
	if _, ok := a[key]; !ok {
		return def, nil
	}
	return a.Int(key)
}

// Channel maps the wire channel argument (1 = voltage, 2 = current) onto
// the internal index.
func (a Args) Channel() (int, error) {
	ch, err := a.Int("ch")
	if err != nil {
		return 0, err
	}
	if ch != 1 && ch != 2 {
		return 0, errcode.InvalidArgs
	}
	return int(ch - 1), nil
}
