package adapters

import (
	"strconv"
	"strings"
	"time"
)

// remoteTimeLayouts are the timestamp renderings seen from Artifactory,
// the compliance service and our own Redis metadata.
var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
}

// parseRemoteTime parses a timestamp written by a remote system. Bare
// integers are epoch milliseconds. The result is always UTC.
func parseRemoteTime(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), true
	}
	for _, layout := range remoteTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
