package valuefmt

import (
	"fmt"
	"strconv"
	"strings"
)

// InfinityMagnitude is the defined large magnitude the INFINITY sentinels
// map to.
const InfinityMagnitude = 1_000_000

// ParseScore parses a signed integer score, recognizing the INFINITY,
// -INFINITY, and +INFINITY sentinels.
func ParseScore(s string) (int, error) {
	switch strings.TrimSpace(s) {
	case "INFINITY", "+INFINITY":
		return InfinityMagnitude, nil
	case "-INFINITY":
		return -InfinityMagnitude, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("valuefmt: invalid score %q: %w", s, err)
	}
	if n > InfinityMagnitude {
		n = InfinityMagnitude
	}
	if n < -InfinityMagnitude {
		n = -InfinityMagnitude
	}
	return n, nil
}

// FormatScore renders a score, mapping ±InfinityMagnitude back to the
// INFINITY sentinels so that ParseScore(FormatScore(s)) == s for all s in
// [-InfinityMagnitude, InfinityMagnitude].
func FormatScore(n int) string {
	switch {
	case n >= InfinityMagnitude:
		return "INFINITY"
	case n <= -InfinityMagnitude:
		return "-INFINITY"
	default:
		return strconv.Itoa(n)
	}
}
