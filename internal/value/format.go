package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StampLayout is the layout used when writing time stamps. Fractional
// seconds are written only when present.
const StampLayout = "2006-01-02T15:04:05.999999999"

// ErrCalendarDuration is returned for month and year durations, which have no fixed length.
var ErrCalendarDuration = errors.New("calendar durations have no fixed length")

var stampLayouts = []string{
	StampLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339Nano,
}

const day = 24 * time.Hour

var durationUnits = []struct {
	suffix string
	size   time.Duration
}{
	{"D", day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

var longUnits = map[string]time.Duration{
	"s": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"D": day, "d": day, "day": day, "days": day,
}

// FormatStamp renders a time stamp in UTC.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseStamp parses a time stamp. Stamps without a zone are UTC.
func ParseStamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time stamp %q", s)
}

// FormatDuration renders d using the largest whole unit out of D, h, m and s.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	for _, u := range durationUnits {
		if d%u.size == 0 {
			return strconv.FormatInt(int64(d/u.size), 10) + u.suffix
		}
	}
	return d.String()
}

// ParseDuration parses "30m", "1h", "2D", "30 minutes" and Go duration syntax.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '-') {
		i++
	}
	if i > 0 && i < len(s) {
		count, err := strconv.ParseInt(s[:i], 10, 64)
		if err == nil {
			unit := strings.TrimSpace(s[i:])
			if size, ok := longUnits[unit]; ok {
				return time.Duration(count) * size, nil
			}
			switch strings.ToLower(unit) {
			case "y", "year", "years", "month", "months":
				return 0, fmt.Errorf("%q: %w", s, ErrCalendarDuration)
			}
			if unit == "M" {
				return 0, fmt.Errorf("%q: %w", s, ErrCalendarDuration)
			}
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
