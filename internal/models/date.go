package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Date is an optional calendar value as the documents store it: full
// timestamps, zone-less timestamps, bare dates or an empty string. The text is
// kept as read so re-encoding a document leaves the value byte-for-byte intact.
type Date struct {
	raw  string
	time time.Time
}

// NewDate wraps t, rendered as RFC 3339.
func NewDate(t time.Time) *Date {
	return &Date{raw: t.Format(time.RFC3339), time: t}
}

// ParseDate reads s in any accepted form. Values without a zone are UTC.
func ParseDate(s string) (Date, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Date{raw: s}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Date{raw: s, time: t}, nil
		}
	}
	return Date{}, fmt.Errorf("unrecognized date %q", s)
}

// Time is the parsed value, zero when the stored text was empty.
func (d Date) Time() time.Time { return d.time }

// IsZero reports an empty date.
func (d Date) IsZero() bool { return d.time.IsZero() }

func (d Date) String() string { return d.raw }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
