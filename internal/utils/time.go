package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CropFraction removes the fractional part of a UNIX or RFC3339 time string.
// "1549886400.000000000" becomes "1549886400" and
// "2019-02-20T09:00:00.000000000Z" becomes "2019-02-20T09:00:00".
func CropFraction(value string) string {
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		return value[:idx]
	}

	return value
}

// ParseUnix converts a UNIX, "YYYY-MM-DD" or "YYYY-MM-DDTHH:MM:SS" time string into UNIX seconds.
// Fractional seconds are discarded. Date-time values without a zone are read as UTC.
func ParseUnix(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty time value")
	}

	cropped := strings.TrimSuffix(CropFraction(value), "Z")

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, cropped, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}

	unix, err := strconv.ParseInt(cropped, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unsupported time format %q, expected UNIX, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS", value)
	}

	return unix, nil
}
