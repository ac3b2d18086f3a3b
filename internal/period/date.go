package period

import (
	"encoding/json"
	"time"
)

// Date is a calendar date that travels as "2006-01-02" in JSON.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date.
func NewDate(t time.Time) Date {
	return Date{Time: Truncate(t)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(Format(d.Time))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := NormalizeDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
