// Package timespan parses and formats human-oriented lookback windows.
//
// The grammar is the compact chat form: "1d", "2h30m", "1w2d". Months and
// years are fixed-width calendar approximations (a month is four weeks, a
// year is twelve of those months) so that windows are stable regardless of
// when they are evaluated.
package timespan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Span units, largest last so Format can pick the biggest fitting one.
const (
	Second = time.Second
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Month  = 4 * Week
	Year   = 12 * Month
)

// AllTime is the sentinel window meaning "no lower bound".
const AllTime = time.Duration(-1)

type unit struct {
	name string
	size time.Duration
}

var units = []unit{
	{"Second", Second},
	{"Minute", Minute},
	{"Hour", Hour},
	{"Day", Day},
	{"Week", Week},
	{"Month", Month},
	{"Year", Year},
}

// unitFor maps a single suffix character to its unit size. Minutes and
// months share a letter and are distinguished by case; every other suffix
// is case-insensitive.
func unitFor(c rune) (time.Duration, bool) {
	switch c {
	case 's', 'S':
		return Second, true
	case 'm':
		return Minute, true
	case 'M':
		return Month, true
	case 'h', 'H':
		return Hour, true
	case 'd', 'D':
		return Day, true
	case 'w', 'W':
		return Week, true
	case 'y', 'Y':
		return Year, true
	}
	return 0, false
}

// Parse converts a compact span expression such as "1d2h" or "0.5M" into a
// duration. Spaces and commas are ignored. It returns an error when the
// input contains no parsable number/suffix pair at all.
func Parse(s string) (time.Duration, error) {
	cleaned := strings.NewReplacer(" ", "", ",", "").Replace(s)

	var (
		total  time.Duration
		number strings.Builder
		valid  bool
	)

	for _, c := range cleaned {
		if (c >= '0' && c <= '9') || c == '.' {
			number.WriteRune(c)
			continue
		}

		size, ok := unitFor(c)
		if ok && number.Len() > 0 {
			n, err := strconv.ParseFloat(number.String(), 64)
			if err == nil {
				total += time.Duration(n * float64(size))
				valid = true
			}
		}
		number.Reset()
	}

	if !valid {
		return 0, fmt.Errorf("timespan: cannot parse %q", s)
	}
	return total, nil
}

// Format renders a duration using the largest unit it fills at least once,
// e.g. "2 Days", "1.50 Hours", "45 Seconds". Exact multiples drop the
// fraction and pluralize only when the count is not one.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	chosen := units[0]
	for _, u := range units {
		if d >= u.size {
			chosen = u
		}
	}

	value := float64(d) / float64(chosen.size)
	rounded := float64(int64(value + 0.5))
	if rounded == value {
		name := chosen.name
		if value != 1 {
			name += "s"
		}
		return fmt.Sprintf("%d %s", int64(value), name)
	}
	return fmt.Sprintf("%.2f %ss", value, chosen.name)
}
