package indicatordata

import (
	"time"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/period"
	"github.com/deptkpi/kpi/internal/util"
)

// Record is one stored actual value.
type Record struct {
	ID            uuid.UUID   `json:"id"`
	IndicatorID   uuid.UUID   `json:"indicatorId"`
	IndicatorName string      `json:"indicatorName,omitempty"`
	PeriodID      uuid.UUID   `json:"periodId"`
	PeriodName    string      `json:"periodName,omitempty"`
	StartDate     period.Date `json:"startDate"`
	EndDate       period.Date `json:"endDate"`
	Value         float64     `json:"value"`
	SubmittedBy   *uuid.UUID  `json:"submittedBy"`
	SubmitterName string      `json:"submitterName,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Result is the outcome of one upsert. Created is false when an earlier value for the
// same indicator and period was overwritten.
type Result struct {
	Record
	Created bool `json:"created"`
}

// EntryInput is one submitted value.
type EntryInput struct {
	IndicatorID uuid.UUID   `json:"indicatorId" label:"ตัวชี้วัด" validate:"required"`
	PeriodID    uuid.UUID   `json:"periodId" label:"รอบการรายงาน" validate:"required"`
	Value       util.Number `json:"value"`
}

// BatchInput is the body of a batch submission.
type BatchInput struct {
	Entries []EntryInput `json:"entries" label:"รายการข้อมูล" validate:"min=1,max=500,dive"`
}

// Entry is a validated value ready to be written.
type Entry struct {
	IndicatorID uuid.UUID
	PeriodID    uuid.UUID
	Value       float64
	SubmittedBy uuid.UUID
}

// Target is what the responsibility check needs to know about an indicator. JobTitleIDs
// are those of the top-level indicator, which sub-indicators share.
type Target struct {
	ID          uuid.UUID
	Name        string
	FrequencyID uuid.UUID
	JobTitleIDs []uuid.UUID
}

// Filter narrows List and Summary.
type Filter struct {
	IndicatorID *uuid.UUID
	PeriodID    *uuid.UUID
	FrequencyID *uuid.UUID
	CategoryID  *uuid.UUID
	// ResponsibleUserID keeps indicators the user is responsible for.
	ResponsibleUserID *uuid.UUID
}

// SummaryRow compares the latest reported value of an indicator with its target.
type SummaryRow struct {
	IndicatorID      uuid.UUID    `json:"indicatorId"`
	IndicatorName    string       `json:"indicatorName"`
	ParentID         *uuid.UUID   `json:"parentId"`
	UnitName         string       `json:"unitName"`
	TargetValue      float64      `json:"targetValue"`
	PeriodCount      int          `json:"periodCount"`
	ReportedCount    int          `json:"reportedCount"`
	LatestValue      *float64     `json:"latestValue"`
	LatestPeriodName *string      `json:"latestPeriodName"`
	LatestPeriodEnd  *period.Date `json:"latestPeriodEnd"`
	Achievement      *float64     `json:"achievement"`
}
