package attrd

import (
	"math"
	"strconv"
	"strings"
)

// ExpandValue implements the value-expansion mini-grammar: a value ending in
// "++" or containing "+=N" is parsed as an arithmetic increment applied to
// old, interpreted as a signed integer (0 if old is not numeric). Any other
// value passes through unchanged. The result saturates to the int64 range
// rather than overflowing.
func ExpandValue(value, old string) string {
	var delta int64
	switch {
	case strings.HasSuffix(value, "++"):
		delta = 1
	case strings.Contains(value, "+="):
		idx := strings.Index(value, "+=")
		n, err := strconv.ParseInt(value[idx+2:], 10, 64)
		if err != nil {
			return value
		}
		delta = n
	default:
		return value
	}

	base, err := strconv.ParseInt(old, 10, 64)
	if err != nil {
		base = 0
	}

	sum := base + delta
	if delta > 0 && sum < base {
		sum = math.MaxInt64
	}
	if delta < 0 && sum > base {
		sum = math.MinInt64
	}
	return strconv.FormatInt(sum, 10)
}
