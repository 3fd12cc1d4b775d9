package timeutil

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// designators in the order they must appear. Months and years are not
// accepted since they have no fixed length.
var designators = []struct {
	c        byte
	d        time.Duration
	timePart bool
}{
	{'W', time.Hour * 24 * 7, false},
	{'D', time.Hour * 24, false},
	{'H', time.Hour, true},
	{'M', time.Minute, true},
	{'S', time.Second, true},
}

// ParseISODuration reads the week, day and time components of an ISO 8601
// duration like "P1DT2H3M4.5S". Only seconds may be fractional.
func ParseISODuration(s string) (time.Duration, error) {
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q: missing 'P' prefix", s)
	}

	rest := s[1:]
	next := 0
	inTime := false
	segments := 0

	var total time.Duration

	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime || len(rest) == 1 {
				return 0, fmt.Errorf("timeutil.ParseISODuration: %q: misplaced 'T'", s)
			}

			inTime = true
			rest = rest[1:]

			continue
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: expected a number followed by a designator", s)
		}

		j := next
		for j < len(designators) && (designators[j].c != rest[i] || designators[j].timePart != inTime) {
			j++
		}
		if j == len(designators) {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: unexpected designator '%c'", s, rest[i])
		}

		f, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: %w", s, err)
		}
		part := math.Round(f * float64(designators[j].d))
		if part >= float64(math.MaxInt64-total) {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: out of range", s)
		}
		if designators[j].c != 'S' && f != math.Trunc(f) {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: only seconds can be fractional", s)
		}

		total += time.Duration(part)
		next = j + 1
		segments++
		rest = rest[i+1:]
	}

	if segments == 0 {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q: no components", s)
	}

	return total, nil
}

// ParseVideoDuration converts a video's ISO 8601 length into whole seconds.
// ok is false for empty or malformed input.
func ParseVideoDuration(s string) (seconds int64, ok bool) {
	d, err := ParseISODuration(s)
	if err != nil {
		return 0, false
	}

	return int64(d / time.Second), true
}
