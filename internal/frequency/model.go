package frequency

import (
	"time"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/period"
)

// Frequency is a named reporting cadence with its periods ordered by start date.
type Frequency struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Periods        []Period  `json:"periods"`
	IndicatorCount int       `json:"indicatorCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Period is one reporting window of a frequency. HasData marks periods that already hold
// indicator values and therefore cannot be removed.
type Period struct {
	ID          uuid.UUID   `json:"id"`
	FrequencyID uuid.UUID   `json:"frequencyId"`
	Name        string      `json:"name"`
	StartDate   period.Date `json:"startDate"`
	EndDate     period.Date `json:"endDate"`
	HasData     bool        `json:"hasData"`
}

// PeriodInput is one period of a create or update payload. ID refers to a stored period
// that should be kept.
type PeriodInput struct {
	ID        *uuid.UUID `json:"id,omitempty"`
	Name      string     `json:"name"`
	StartDate string     `json:"startDate"`
	EndDate   string     `json:"endDate"`
}

// Input is the create/update payload.
type Input struct {
	Name    string        `json:"name"`
	Periods []PeriodInput `json:"periods"`
}

// Plan is the change set that turns the stored periods into the submitted ones.
type Plan struct {
	Insert []period.Range
	Update []period.Range
	Delete []uuid.UUID
}
