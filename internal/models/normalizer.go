package models

import (
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize applies field normalization to a Reading
// - trims DeviceID and Message
// - upper-cases Status
// - converts Timestamp to UTC
func (r *Reading) Normalize() {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	r.Message = strings.TrimSpace(r.Message)

	r.Status = DeviceStatus(strings.ToUpper(strings.TrimSpace(string(r.Status))))
	// Some firmware reports "low power" / "low-power"
	r.Status = DeviceStatus(strings.NewReplacer(" ", "_", "-", "_").Replace(string(r.Status)))

	if !r.Timestamp.IsZero() {
		r.Timestamp = r.Timestamp.UTC()
	}
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
