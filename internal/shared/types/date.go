package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-date form sent by HTML date inputs.
const DateLayout = "2006-01-02"

// Date is a point in time that also decodes from a bare calendar date.
// It encodes as RFC 3339.
type Date struct {
	time.Time
}

// NewDate wraps t.
func NewDate(t time.Time) *Date {
	return &Date{Time: t}
}

// ParseDate accepts "2006-01-02" (midnight UTC) or RFC 3339.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return Date{Time: t}, nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return d.Time.MarshalJSON()
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
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
