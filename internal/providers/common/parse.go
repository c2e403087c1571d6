package common

import (
	"strconv"
	"strings"
)

// ParseCoordinate parses a coordinate sent as a decimal string.
func ParseCoordinate(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FirstNonEmpty returns the first value that is not blank after trimming.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func IntPtr(v int) *int { return &v }

func Float64Ptr(v float64) *float64 { return &v }
