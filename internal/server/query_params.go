package server

import (
	"errors"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

// parseOptionalTime accepts RFC3339 or a bare date. A bare date expands to
// the start or, with endOfDay, the last instant of that UTC day.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

func parseTimeRange(from, to string) (*time.Time, *time.Time, error) {
	start, err := parseOptionalTime(from, false)
	if err != nil {
		return nil, nil, newValidationError("from", "invalid_from", "from must be RFC3339 or YYYY-MM-DD")
	}
	end, err := parseOptionalTime(to, true)
	if err != nil {
		return nil, nil, newValidationError("to", "invalid_to", "to must be RFC3339 or YYYY-MM-DD")
	}
	return start, end, nil
}
