package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTimeFormat is returned when a clock value is not "HH:MM".
var ErrInvalidTimeFormat = errors.New("invalid time format, expected HH:MM")

// TimeRange is a half-open interval [start, end) within a single day,
// expressed in minutes since midnight. Immutable once constructed.
type TimeRange struct {
	start int
	end   int
}

// ParseTimeRange builds a TimeRange from two "HH:MM" clock strings.
// Zero-length and inverted ranges are rejected.
func ParseTimeRange(startTime, endTime string) (TimeRange, error) {
	start, err := parseClock(startTime)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := parseClock(endTime)
	if err != nil {
		return TimeRange{}, err
	}
	if start >= end {
		return TimeRange{}, fmt.Errorf("end time %s must be after start time %s", endTime, startTime)
	}
	return TimeRange{start: start, end: end}, nil
}

// Start returns the inclusive start in minutes since midnight.
func (r TimeRange) Start() int { return r.start }

// End returns the exclusive end in minutes since midnight.
func (r TimeRange) End() int { return r.end }

// Overlaps reports whether the two ranges intersect. Adjacent ranges
// (a.end == b.start) do not overlap, so back-to-back activities are allowed.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.start < other.end && other.start < r.end
}

// Before orders ranges by start minute.
func (r TimeRange) Before(other TimeRange) bool {
	return r.start < other.start
}

func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
	}
	return hours*60 + minutes, nil
}
