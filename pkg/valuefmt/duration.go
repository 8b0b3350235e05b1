package valuefmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses either a bare integer millisecond count or a
// Pacemaker-style "N(ms|s|m|h)" string into milliseconds. "0" and "" both
// mean "no dampening".
func ParseDuration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}

	if strings.HasSuffix(s, "ms") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("valuefmt: invalid duration %q: %w", s, err)
		}
		return n, nil
	}

	unit := s[len(s)-1:]
	var mult int64
	switch unit {
	case "s":
		mult = int64(time.Second / time.Millisecond)
	case "m":
		mult = int64(time.Minute / time.Millisecond)
	case "h":
		mult = int64(time.Hour / time.Millisecond)
	default:
		return 0, fmt.Errorf("valuefmt: invalid duration %q", s)
	}

	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("valuefmt: invalid duration %q: %w", s, err)
	}
	return n * mult, nil
}

// FormatDuration renders a millisecond count back to the shortest
// Pacemaker-style string that round-trips through ParseDuration.
func FormatDuration(ms int64) string {
	if ms == 0 {
		return "0"
	}
	switch {
	case ms%int64(time.Hour/time.Millisecond) == 0:
		return fmt.Sprintf("%dh", ms/int64(time.Hour/time.Millisecond))
	case ms%int64(time.Minute/time.Millisecond) == 0:
		return fmt.Sprintf("%dm", ms/int64(time.Minute/time.Millisecond))
	case ms%1000 == 0:
		return fmt.Sprintf("%ds", ms/1000)
	default:
		return fmt.Sprintf("%dms", ms)
	}
}
