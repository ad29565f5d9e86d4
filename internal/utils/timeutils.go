package utils

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Layouts accepted for prediction timestamps. Zone-less values come from
// naive datetimes and from datetime-local form inputs; they are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO-8601 forms listed above.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported format %q", value)
}

// DaysUntil reports whole days from now to due, rounded down so any instant
// past due is negative.
func DaysUntil(now, due time.Time) int {
	return int(math.Floor(due.Sub(now).Hours() / 24))
}
