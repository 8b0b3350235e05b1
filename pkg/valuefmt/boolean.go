package valuefmt

import (
	"fmt"
	"strings"
)

// ParseBool parses the Pacemaker-style boolean vocabulary
// (true|yes|on|1 / false|no|off|0), case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("valuefmt: invalid boolean %q", s)
	}
}

// FormatBool renders the canonical "true"/"false" spelling.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
