package valuefmt

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatIdentity renders the canonical "<rsc_id>_<operation>_<interval_ms>"
// operation identity key.
func FormatIdentity(rscID, operation string, intervalMS int64) string {
	return fmt.Sprintf("%s_%s_%d", rscID, operation, intervalMS)
}

// ParseIdentity parses a key produced by FormatIdentity. Resource ids and
// operation names never contain underscores followed by a purely numeric
// suffix that would itself parse as a trailing interval, so the interval is
// recovered by splitting off the last underscore-delimited component; the
// remainder is split on the next-to-last one to separate rsc_id and
// operation. Both rsc_id and operation are required to be non-empty.
func ParseIdentity(key string) (rscID, operation string, intervalMS int64, err error) {
	lastUnderscore := strings.LastIndexByte(key, '_')
	if lastUnderscore < 0 {
		return "", "", 0, fmt.Errorf("valuefmt: invalid identity key %q", key)
	}
	intervalMS, err = strconv.ParseInt(key[lastUnderscore+1:], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("valuefmt: invalid identity key %q: %w", key, err)
	}

	rest := key[:lastUnderscore]
	secondUnderscore := strings.LastIndexByte(rest, '_')
	if secondUnderscore < 0 {
		return "", "", 0, fmt.Errorf("valuefmt: invalid identity key %q", key)
	}
	rscID = rest[:secondUnderscore]
	operation = rest[secondUnderscore+1:]
	if rscID == "" || operation == "" {
		return "", "", 0, fmt.Errorf("valuefmt: invalid identity key %q", key)
	}
	return rscID, operation, intervalMS, nil
}
