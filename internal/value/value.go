// Package value defines stored parameter value types and their JSON codec.
package value

import (
	"errors"
	"time"
)

// Type names the storage type of a parameter value.
type Type string

// Supported value types.
const (
	TypeFloat       Type = "float"
	TypeString      Type = "str"
	TypeBool        Type = "bool"
	TypeDuration    Type = "duration"
	TypeDateTime    Type = "date_time"
	TypeArray       Type = "array"
	TypeTimeSeries  Type = "time_series"
	TypeTimePattern Type = "time_pattern"
	TypeMap         Type = "map"
)

// ErrUnknownType is returned when a stored type name is not recognized.
var ErrUnknownType = errors.New("unknown value type")

// Value is any parameter value.
type Value interface {
	Type() Type
}

// Float is a numeric scalar.
type Float float64

// String is a text scalar.
type String string

// Bool is a boolean scalar.
type Bool bool

// Duration is a fixed-length duration scalar.
type Duration time.Duration

// DateTime is a point in time.
type DateTime time.Time

// Array is a one-dimensional list of numbers.
type Array struct {
	Values    []float64
	IndexName string
}

// TimeSeriesVariable is a time series whose consecutive sample intervals may differ.
type TimeSeriesVariable struct {
	Stamps     []time.Time
	Values     []float64
	IgnoreYear bool
	Repeat     bool
	IndexName  string
}

// TimeSeriesFixed is a time series with one constant resolution and no gaps.
type TimeSeriesFixed struct {
	Start      time.Time
	Resolution time.Duration
	Values     []float64
	IgnoreYear bool
	Repeat     bool
	IndexName  string
}

// TimePattern maps time period expressions (e.g. "M1-4") to values.
type TimePattern struct {
	Patterns  []string
	Values    []float64
	IndexName string
}

// Map is an indexed, possibly nested collection of values.
type Map struct {
	IndexType string
	Indexes   []string
	Values    []Value
	IndexName string
}

func (Float) Type() Type              { return TypeFloat }
func (String) Type() Type             { return TypeString }
func (Bool) Type() Type               { return TypeBool }
func (Duration) Type() Type           { return TypeDuration }
func (DateTime) Type() Type           { return TypeDateTime }
func (Array) Type() Type              { return TypeArray }
func (TimeSeriesVariable) Type() Type { return TypeTimeSeries }
func (TimeSeriesFixed) Type() Type    { return TypeTimeSeries }
func (TimePattern) Type() Type        { return TypeTimePattern }
func (Map) Type() Type                { return TypeMap }

// Len returns the number of points in the series.
func (ts TimeSeriesVariable) Len() int { return len(ts.Values) }

// Len returns the number of points in the series.
func (ts TimeSeriesFixed) Len() int { return len(ts.Values) }

// Stamps expands the fixed resolution index into explicit time stamps.
func (ts TimeSeriesFixed) Stamps() []time.Time {
	stamps := make([]time.Time, len(ts.Values))
	for i := range stamps {
		stamps[i] = ts.Start.Add(time.Duration(i) * ts.Resolution)
	}
	return stamps
}

// IndexCount returns the number of index dimensions of v.
func IndexCount(v Value) int {
	switch x := v.(type) {
	case Array, TimeSeriesVariable, TimeSeriesFixed, TimePattern:
		return 1
	case Map:
		return mapDimensions(x)
	default:
		return 0
	}
}

func mapDimensions(m Map) int {
	nested := 0
	for _, v := range m.Values {
		if inner, ok := v.(Map); ok {
			if d := mapDimensions(inner); d > nested {
				nested = d
			}
		}
	}
	return 1 + nested
}

// Len returns the number of top-level elements in an indexed value and -1 for scalars.
func Len(v Value) int {
	switch x := v.(type) {
	case Array:
		return len(x.Values)
	case TimeSeriesVariable:
		return len(x.Values)
	case TimeSeriesFixed:
		return len(x.Values)
	case TimePattern:
		return len(x.Values)
	case Map:
		return len(x.Values)
	default:
		return -1
	}
}

// Numbers returns all numeric data held by v, descending into maps.
func Numbers(v Value) []float64 {
	switch x := v.(type) {
	case Float:
		return []float64{float64(x)}
	case Array:
		return x.Values
	case TimeSeriesVariable:
		return x.Values
	case TimeSeriesFixed:
		return x.Values
	case TimePattern:
		return x.Values
	case Map:
		var out []float64
		for _, inner := range x.Values {
			out = append(out, Numbers(inner)...)
		}
		return out
	default:
		return nil
	}
}
