package indicator

import (
	"time"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/util"
)

// JobTitleRef names a responsible job title.
type JobTitleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Indicator is a KPI. Top-level indicators carry the responsible job titles and list their
// sub-indicators ordered by position; sub-indicators share the unit, frequency and category
// of their parent and report the parent's job titles.
type Indicator struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	CategoryID    uuid.UUID     `json:"categoryId"`
	CategoryName  string        `json:"categoryName"`
	UnitID        uuid.UUID     `json:"unitId"`
	UnitName      string        `json:"unitName"`
	FrequencyID   uuid.UUID     `json:"frequencyId"`
	FrequencyName string        `json:"frequencyName"`
	TargetValue   float64       `json:"targetValue"`
	ParentID      *uuid.UUID    `json:"parentId"`
	Position      int           `json:"position"`
	JobTitles     []JobTitleRef `json:"jobTitles"`
	CreatedBy     *uuid.UUID    `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	SubIndicators []Indicator   `json:"subIndicators"`
}

// JobTitleIDs returns the ids of the responsible job titles.
func (i Indicator) JobTitleIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(i.JobTitles))
	for _, jt := range i.JobTitles {
		ids = append(ids, jt.ID)
	}
	return ids
}

// Input is the create/update payload. When ParentID is set the indicator is a
// sub-indicator and category, unit, frequency and job titles come from the parent.
type Input struct {
	Name          string       `json:"name" label:"ชื่อตัวชี้วัด" validate:"required,max=255"`
	Description   string       `json:"description" label:"คำอธิบาย" validate:"max=4000"`
	CategoryID    uuid.UUID    `json:"categoryId" label:"หมวดหมู่" validate:"required_without=ParentID"`
	UnitID        uuid.UUID    `json:"unitId" label:"หน่วยนับ" validate:"required_without=ParentID"`
	FrequencyID   uuid.UUID    `json:"frequencyId" label:"ความถี่การรายงาน" validate:"required_without=ParentID"`
	TargetValue   util.Number  `json:"targetValue"`
	ParentID      *uuid.UUID   `json:"parentId"`
	Position      *int         `json:"position" label:"ลำดับ" validate:"omitempty,min=1"`
	JobTitleIDs   []uuid.UUID  `json:"jobTitleIds"`
	SubIndicators []ChildInput `json:"subIndicators" validate:"dive"`
}

// ChildInput is one sub-indicator inside a parent payload. ID refers to an existing
// sub-indicator on update.
type ChildInput struct {
	ID          *uuid.UUID  `json:"id,omitempty"`
	Name        string      `json:"name" label:"ชื่อตัวชี้วัดย่อย" validate:"required,max=255"`
	Description string      `json:"description" label:"คำอธิบาย" validate:"max=4000"`
	TargetValue util.Number `json:"targetValue"`
	Position    *int        `json:"position" label:"ลำดับ" validate:"omitempty,min=1"`
}

// Filter narrows List.
type Filter struct {
	CategoryID  *uuid.UUID
	FrequencyID *uuid.UUID
	UnitID      *uuid.UUID
	JobTitleID  *uuid.UUID
	Query       string
}

// Draft is a validated indicator ready to be written.
type Draft struct {
	Name        string
	Description string
	CategoryID  uuid.UUID
	UnitID      uuid.UUID
	FrequencyID uuid.UUID
	TargetValue float64
	ParentID    *uuid.UUID
	Position    int
	JobTitleIDs []uuid.UUID
	CreatedBy   *uuid.UUID
	Children    []ChildDraft
}

// ChildDraft is a validated sub-indicator.
type ChildDraft struct {
	ID          *uuid.UUID
	Name        string
	Description string
	TargetValue float64
	Position    int
}

// Refs are the lookup rows a top-level indicator points at.
type Refs struct {
	CategoryID  uuid.UUID
	UnitID      uuid.UUID
	FrequencyID uuid.UUID
	JobTitleIDs []uuid.UUID
}
