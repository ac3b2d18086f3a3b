package util

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deptkpi/kpi/internal/repo"
)

// Number is a JSON value accepted either as a number or as a numeric string ("12.5",
// " 3 "). Anything else fails to decode, so non-numeric input never reaches storage.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}

	v, err := ParseNumber(raw)
	if err != nil {
		return err
	}
	*n = Number{Value: v, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// ParseNumber coerces a decimal string to float64.
func ParseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0, repo.Validation("กรุณาระบุค่าตัวเลข")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, repo.Validation("ค่าที่ระบุต้องเป็นตัวเลข")
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, repo.Validation("ค่าที่ระบุต้องเป็นตัวเลข")
	}
	return f, nil
}

// Round2 rounds to two decimal places, used for percentages.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
