package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = []struct {
	suffix string
	unit   time.Duration
}{
	// "ms" must be tried before "m" and "s".
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses config durations such as "1000ms", "30s", "20m",
// "48h" or "2d". Units are case-insensitive; the amount must be a
// non-negative integer.
func ParseStringTime(timeString string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(timeString))
	for _, u := range durationUnits {
		number, found := strings.CutSuffix(s, u.suffix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(number)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time amount in %q", timeString)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time format: %q", timeString)
}

// MustParseStringTime is ParseStringTime for compiled-in defaults.
func MustParseStringTime(timeString string) time.Duration {
	d, err := ParseStringTime(timeString)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMillis renders d the way config files spell it.
func FormatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
