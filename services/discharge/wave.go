package discharge

import (
	"strconv"
	"strings"

	"github.com/chewxy/math32"

	"acqdevice-go/errcode"
)

// WaveMax bounds the chunk chain.
const WaveMax = 32

// Chunk is one piecewise-constant segment of the discharge profile.
type Chunk struct {
	Base        uint16  // DAC code; 0 disables LOAD+DAC
	BaseDev     float32 // percent
	DurationMS  uint32
	DurationDev float32 // percent
	Repeat      uint32  // times this chunk runs before advancing
}

// arena stores the chunk chain as an index-based ring with a generation
// counter, so a chain cleared mid-run cannot be re-entered through a stale
// index.
type arena struct {
	chunks [WaveMax]Chunk
	count  int
	gen    uint32
}

func (a *arena) add(c Chunk) error {
	if a.count >= WaveMax {
		return errcode.Exhausted
	}
	a.chunks[a.count] = c
	a.count++
	return nil
}

func (a *arena) clear() {
	a.count = 0
	a.gen++
}

// at returns the chunk at index i if gen still matches.
func (a *arena) at(gen uint32, i int) (Chunk, bool) {
	if gen != a.gen || i < 0 || i >= a.count {
		return Chunk{}, false
	}
	return a.chunks[i], true
}

// next wraps around the chain.
func (a *arena) next(i int) int {
	if a.count == 0 {
		return 0
	}
	return (i + 1) % a.count
}

// ParseChunk parses the six comma-separated fields of an add-chunk command:
//
//	base,base_dev,duration,duration_dev,repetition;
func ParseChunk(s string) (Chunk, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ";") {
		return Chunk{}, errcode.InvalidArgs
	}
	fields := strings.Split(strings.TrimSuffix(s, ";"), ",")
	if len(fields) != 5 {
		return Chunk{}, errcode.InvalidArgs
	}
	base, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 16)
	if err != nil {
		return Chunk{}, errcode.InvalidArgs
	}
	baseDev, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 32)
	if err != nil {
		return Chunk{}, errcode.InvalidArgs
	}
	dur, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil || dur == 0 {
		return Chunk{}, errcode.InvalidArgs
	}
	durDev, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 32)
	if err != nil {
		return Chunk{}, errcode.InvalidArgs
	}
	rep, err := strconv.ParseUint(strings.TrimSpace(fields[4]), 10, 32)
	if err != nil || rep == 0 {
		return Chunk{}, errcode.InvalidArgs
	}
	return Chunk{
		Base:        uint16(base),
		BaseDev:     float32(baseDev),
		DurationMS:  uint32(dur),
		DurationDev: float32(durDev),
		Repeat:      uint32(rep),
	}, nil
}

// jitter applies a percent deviation: value * (1 + dev/100 * r) with
// r in [-1, 1).
func jitter(value float32, devPct float32, r float32) float32 {
	if devPct == 0 {
		return value
	}
	v := value * (1 + devPct/100*r)
	return math32.Max(v, 0)
}
