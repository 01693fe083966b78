package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/verte-zerg/tsbatch/internal/value"
)

// typeCheckers maps schema type names to value predicates. Stored numbers
// decode as floats, so "integer" accepts floats without a fractional part.
var typeCheckers = map[string]func(value.Value) bool{
	"float":   isFloat,
	"number":  isFloat,
	"integer": isInteger,
	"string": func(v value.Value) bool {
		_, ok := v.(value.String)
		return ok
	},
	"boolean": func(v value.Value) bool {
		_, ok := v.(value.Bool)
		return ok
	},
	"array": func(v value.Value) bool {
		_, ok := v.(value.Array)
		return ok
	},
	"datetime": func(v value.Value) bool {
		_, ok := v.(value.DateTime)
		return ok
	},
	"duration": func(v value.Value) bool {
		_, ok := v.(value.Duration)
		return ok
	},
	"map": func(v value.Value) bool {
		_, ok := v.(value.Map)
		return ok
	},
	"time series": func(v value.Value) bool {
		return v.Type() == value.TypeTimeSeries
	},
	"time pattern": func(v value.Value) bool {
		_, ok := v.(value.TimePattern)
		return ok
	},
}

func isFloat(v value.Value) bool {
	_, ok := v.(value.Float)
	return ok
}

func isInteger(v value.Value) bool {
	f, ok := v.(value.Float)
	if !ok {
		return false
	}
	x := float64(f)
	return !math.IsInf(x, 0) && x == math.Trunc(x)
}

// checker is a Rule with its regex compiled.
type checker struct {
	rule  Rule
	regex *regexp.Regexp
}

func newChecker(rule Rule) (*checker, error) {
	c := &checker{rule: rule}
	if rule.Regex != "" {
		re, err := regexp.Compile(`^(?:` + rule.Regex + `)$`)
		if err != nil {
			return nil, fmt.Errorf("bad regex %q: %w", rule.Regex, err)
		}
		c.regex = re
	}
	return c, nil
}

// Check returns the rule violations of v. A failed type check ends the
// checks for that value.
func (c *checker) Check(v value.Value) []string {
	r := c.rule
	if len(r.Type) > 0 && !c.typeMatches(v) {
		return []string{fmt.Sprintf("must be of %s type", strings.Join(r.Type, " or "))}
	}

	var errs []string
	if len(r.Allowed) > 0 && isScalar(v) && !allowed(v, r.Allowed) {
		errs = append(errs, fmt.Sprintf("unallowed value %s", formatScalar(v)))
	}
	if numbers := numeric(v); numbers != nil {
		if r.Min != nil && anyBelow(numbers, *r.Min) {
			errs = append(errs, fmt.Sprintf("min value is %s", formatNumber(*r.Min)))
		}
		if r.Max != nil && anyAbove(numbers, *r.Max) {
			errs = append(errs, fmt.Sprintf("max value is %s", formatNumber(*r.Max)))
		}
	}
	if s, ok := v.(value.String); ok && c.regex != nil && !c.regex.MatchString(string(s)) {
		errs = append(errs, fmt.Sprintf("value does not match regex '%s'", r.Regex))
	}
	if n := length(v); n >= 0 {
		if r.MinLength != nil && n < *r.MinLength {
			errs = append(errs, fmt.Sprintf("min length is %d", *r.MinLength))
		}
		if r.MaxLength != nil && n > *r.MaxLength {
			errs = append(errs, fmt.Sprintf("max length is %d", *r.MaxLength))
		}
	}
	indexes := value.IndexCount(v)
	if r.MinIndexes != nil && indexes < *r.MinIndexes {
		errs = append(errs, fmt.Sprintf("must have index count > %d", *r.MinIndexes))
	}
	if r.MaxIndexes != nil && indexes > *r.MaxIndexes {
		errs = append(errs, fmt.Sprintf("must have index count < %d", *r.MaxIndexes))
	}
	if r.NumberOfIndexes != nil && indexes != *r.NumberOfIndexes {
		errs = append(errs, fmt.Sprintf("must have index count of %d", *r.NumberOfIndexes))
	}
	return errs
}

func (c *checker) typeMatches(v value.Value) bool {
	for _, name := range c.rule.Type {
		if check, ok := typeCheckers[name]; ok && check(v) {
			return true
		}
	}
	return false
}

func isScalar(v value.Value) bool {
	switch v.(type) {
	case value.Float, value.String, value.Bool, value.Duration, value.DateTime:
		return true
	}
	return false
}

// numeric returns the numbers min and max apply to, nil for text values.
func numeric(v value.Value) []float64 {
	switch v.(type) {
	case value.String, value.Bool, value.Duration, value.DateTime:
		return nil
	}
	return value.Numbers(v)
}

func anyBelow(xs []float64, limit float64) bool {
	for _, x := range xs {
		if x < limit {
			return true
		}
	}
	return false
}

func anyAbove(xs []float64, limit float64) bool {
	for _, x := range xs {
		if x > limit {
			return true
		}
	}
	return false
}

func length(v value.Value) int {
	if s, ok := v.(value.String); ok {
		return utf8.RuneCountInString(string(s))
	}
	return value.Len(v)
}

func allowed(v value.Value, candidates []any) bool {
	for _, c := range candidates {
		if equalScalar(v, c) {
			return true
		}
	}
	return false
}

func equalScalar(v value.Value, candidate any) bool {
	switch x := v.(type) {
	case value.Float:
		f, ok := toFloat(candidate)
		return ok && f == float64(x)
	case value.Bool:
		b, ok := candidate.(bool)
		return ok && b == bool(x)
	case value.String:
		s, ok := candidate.(string)
		return ok && s == string(x)
	case value.Duration:
		s, ok := candidate.(string)
		if !ok {
			return false
		}
		d, err := value.ParseDuration(s)
		return err == nil && d == time.Duration(x)
	case value.DateTime:
		s, ok := candidate.(string)
		if !ok {
			return false
		}
		t, err := value.ParseStamp(s)
		return err == nil && t.Equal(time.Time(x))
	}
	return false
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func formatScalar(v value.Value) string {
	switch x := v.(type) {
	case value.Float:
		return formatNumber(float64(x))
	case value.String:
		return string(x)
	case value.Bool:
		if x {
			return "True"
		}
		return "False"
	case value.Duration:
		return value.FormatDuration(time.Duration(x))
	case value.DateTime:
		return value.FormatStamp(time.Time(x))
	}
	return fmt.Sprint(v)
}

// formatNumber prints whole numbers with a trailing ".0".
func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}
