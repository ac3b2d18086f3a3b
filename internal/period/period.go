// Package period validates the reporting periods of a frequency and normalises the
// dates they are built from.
package period

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/repo"
)

const dateLayout = "2006-01-02"

var acceptedLayouts = []string{
	dateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeDate parses s and truncates it to its calendar date at 00:00 UTC. The calendar
// date is taken in the zone the input was written in, so "2024-03-31T23:00:00+07:00" is
// the 31st.
func NormalizeDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, repo.Validation("กรุณาระบุวันที่")
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Truncate(t), nil
		}
	}
	return time.Time{}, repo.Validation(fmt.Sprintf("รูปแบบวันที่ไม่ถูกต้อง: %s", s))
}

// Truncate drops the clock part of t, keeping its calendar date.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Format renders a normalised date.
func Format(t time.Time) string {
	return t.Format(dateLayout)
}

// Range is one reporting period. ID is set when it refers to a stored period.
type Range struct {
	ID    *uuid.UUID
	Name  string
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share any day. Touching ranges (a.End == b.Start)
// count as overlapping since both ends are inclusive.
func Overlaps(a, b Range) bool {
	return !a.End.Before(b.Start) && !b.End.Before(a.Start)
}

// Validate checks a proposed period set and returns it sorted by start date.
//
// Every period must end strictly after it starts, and after sorting each period must
// end strictly before the next one starts. The input slice is not modified.
func Validate(ranges []Range) ([]Range, error) {
	if len(ranges) == 0 {
		return nil, repo.Validation("กรุณาระบุรอบการรายงานอย่างน้อย 1 รอบ")
	}

	for i, r := range ranges {
		if r.Start.IsZero() || r.End.IsZero() {
			return nil, repo.Validation(fmt.Sprintf("รอบที่ %d: กรุณาระบุวันเริ่มต้นและวันสิ้นสุด", i+1))
		}
		if !r.End.After(r.Start) {
			return nil, repo.Validation(fmt.Sprintf("รอบที่ %d: วันสิ้นสุดต้องอยู่หลังวันเริ่มต้น", i+1))
		}
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		if !cur.End.Before(next.Start) {
			return nil, repo.Validation(fmt.Sprintf(
				"ช่วงวันที่ทับซ้อนกัน: %s ถึง %s และ %s ถึง %s",
				Format(cur.Start), Format(cur.End), Format(next.Start), Format(next.End),
			))
		}
	}

	return sorted, nil
}
