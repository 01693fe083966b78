// Package resample fills the gaps of variable resolution time series.
//
// Fill discovers the base sampling step of a series as the smallest interval
// between consecutive stamps, checks that every interval is a whole multiple
// of that step and synthesizes the missing samples with an interpolation
// policy. The result is a fixed resolution series that contains every
// original sample at its grid position.
//
// All functions are pure and safe for concurrent use.
package resample

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/verte-zerg/tsbatch/internal/value"
)

// GridTolerance is the largest accepted distance between an interval's
// step ratio and the nearest integer. It is dimensionless: it applies to
// interval/step, not to the raw duration, so it holds for any step size.
const GridTolerance = 1e-8

const toleranceDenominator = uint64(1 / GridTolerance)

var (
	// ErrNonUniformGrid means the stamps do not lie on a single step grid.
	ErrNonUniformGrid = errors.New("time stamps are not on a uniform grid")
	// ErrMalformedSeries means the input breaks the series invariants.
	ErrMalformedSeries = errors.New("malformed time series")
)

// Grid is the detected sampling step and the number of steps each original
// interval spans.
type Grid struct {
	Step   time.Duration
	Counts []int
}

// Total returns the number of steps between the first and last stamp.
func (g Grid) Total() int {
	total := 0
	for _, c := range g.Counts {
		total += c
	}
	return total
}

// DetectStep finds the sampling step of strictly increasing stamps.
func DetectStep(stamps []time.Time) (Grid, error) {
	if len(stamps) < 2 {
		return Grid{}, fmt.Errorf("need at least 2 stamps, got %d: %w", len(stamps), ErrMalformedSeries)
	}
	diffs := make([]time.Duration, len(stamps)-1)
	step := time.Duration(math.MaxInt64)
	for i := range diffs {
		diffs[i] = stamps[i+1].Sub(stamps[i])
		if diffs[i] <= 0 {
			return Grid{}, fmt.Errorf("stamp %d is not after stamp %d: %w", i+1, i, ErrMalformedSeries)
		}
		if diffs[i] < step {
			step = diffs[i]
		}
	}
	counts := make([]int, len(diffs))
	for i, d := range diffs {
		count, ok := stepCount(d, step)
		if !ok {
			return Grid{}, fmt.Errorf("interval %d spans %.9g steps of %s: %w", i, float64(d)/float64(step), step, ErrNonUniformGrid)
		}
		counts[i] = count
	}
	return Grid{Step: step, Counts: counts}, nil
}

// stepCount rounds d/step to the nearest integer and reports whether the
// remainder is within GridTolerance steps. The comparison is exact integer
// arithmetic on nanoseconds.
func stepCount(d, step time.Duration) (int, bool) {
	count, rem := d/step, d%step
	if rem == 0 {
		return int(count), true
	}
	dev := rem
	if step-rem < rem {
		count++
		dev = step - rem
	}
	hi, lo := bits.Mul64(uint64(dev), toleranceDenominator)
	return int(count), hi == 0 && lo <= uint64(step)
}

// Fill resamples series to a fixed resolution using policy for the missing
// points. Irregular stamps give ErrNonUniformGrid; broken input gives
// ErrMalformedSeries.
func Fill(series value.TimeSeriesVariable, policy Interpolation) (value.TimeSeriesFixed, error) {
	if !policy.Valid() {
		return value.TimeSeriesFixed{}, fmt.Errorf("unknown interpolation %d: %w", policy, ErrMalformedSeries)
	}
	if len(series.Stamps) != len(series.Values) {
		return value.TimeSeriesFixed{}, fmt.Errorf("%d stamps but %d values: %w", len(series.Stamps), len(series.Values), ErrMalformedSeries)
	}
	grid, err := DetectStep(series.Stamps)
	if err != nil {
		return value.TimeSeriesFixed{}, err
	}
	gaps := make([][]float64, len(grid.Counts))
	for i, count := range grid.Counts {
		if count > 1 {
			gaps[i] = FillGap(policy, series.Stamps[i], series.Stamps[i+1], series.Values[i], series.Values[i+1], grid.Step, count)
		}
	}
	return build(series, grid, gaps), nil
}

func build(series value.TimeSeriesVariable, grid Grid, gaps [][]float64) value.TimeSeriesFixed {
	n := len(series.Values)
	values := make([]float64, 0, 1+grid.Total())
	for i := 0; i < n-1; i++ {
		values = append(values, series.Values[i])
		values = append(values, gaps[i]...)
	}
	values = append(values, series.Values[n-1])
	if len(values) != 1+grid.Total() {
		panic(fmt.Sprintf("resample: built %d values for %d steps", len(values), grid.Total()))
	}
	return value.TimeSeriesFixed{
		Start:      series.Stamps[0],
		Resolution: grid.Step,
		Values:     values,
		IgnoreYear: series.IgnoreYear,
		Repeat:     series.Repeat,
		IndexName:  series.IndexName,
	}
}
