package resample

import (
	"fmt"
	"strings"
	"time"
)

// Interpolation selects how missing points are synthesized.
type Interpolation int

// Interpolation policies.
const (
	// Previous holds the left sample.
	Previous Interpolation = iota
	// Next takes the right sample.
	Next
	// Nearest takes the temporally closer sample. Exact midpoints take the left one.
	Nearest
	// Linear interpolates along elapsed time.
	Linear
)

var interpolationNames = [...]string{
	Previous: "previous",
	Next:     "next",
	Nearest:  "nearest",
	Linear:   "linear",
}

// gapFunc returns the value at elapsed time into a gap of length span.
type gapFunc func(v0, v1 float64, elapsed, span time.Duration) float64

var gapFuncs = [...]gapFunc{
	Previous: func(v0, _ float64, _, _ time.Duration) float64 { return v0 },
	Next:     func(_, v1 float64, _, _ time.Duration) float64 { return v1 },
	Nearest: func(v0, v1 float64, elapsed, span time.Duration) float64 {
		if 2*elapsed <= span {
			return v0
		}
		return v1
	},
	Linear: func(v0, v1 float64, elapsed, span time.Duration) float64 {
		return v0 + (v1-v0)*float64(elapsed)/float64(span)
	},
}

// Interpolations lists the policy names in declaration order.
func Interpolations() []string {
	return append([]string(nil), interpolationNames[:]...)
}

// ParseInterpolation maps a policy name to its Interpolation.
func ParseInterpolation(name string) (Interpolation, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, n := range interpolationNames {
		if n == name {
			return Interpolation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown interpolation %q (available: %s)", name, strings.Join(interpolationNames[:], ", "))
}

// Valid reports whether p is one of the declared policies.
func (p Interpolation) Valid() bool {
	return p >= 0 && int(p) < len(gapFuncs)
}

func (p Interpolation) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Interpolation(%d)", int(p))
	}
	return interpolationNames[p]
}

// FillGap returns the count-1 values at t0+k*step, k = 1..count-1, between
// samples (t0, v0) and (t1, v1). It returns nil when count <= 1 or the
// policy is unknown.
func FillGap(policy Interpolation, t0, t1 time.Time, v0, v1 float64, step time.Duration, count int) []float64 {
	if count <= 1 || !policy.Valid() {
		return nil
	}
	f := gapFuncs[policy]
	span := t1.Sub(t0)
	out := make([]float64, count-1)
	for k := 1; k < count; k++ {
		out[k-1] = f(v0, v1, time.Duration(k)*step, span)
	}
	return out
}
