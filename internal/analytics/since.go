package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/reelfactory/internal/db"
)

// ParseSince turns "24h", "7d" or an RFC 3339 time into an event log
// timestamp relative to now. Empty means no lower bound.
func ParseSince(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(db.TimeFormat), nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid since %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil || d < 0 {
			return "", fmt.Errorf("invalid since %q (use e.g. 24h, 7d or an RFC 3339 time)", s)
		}
	}
	return now.Add(-d).UTC().Format(db.TimeFormat), nil
}
