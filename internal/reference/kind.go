// Package reference manages the named lookup entities that indicators and users point at:
// categories, units, job titles, departments and roles. They differ only in table, label
// and which rows depend on them, so one service drives all of them from a Kind.
package reference

// Dependent is a table whose rows reference the kind and therefore block its deletion.
type Dependent struct {
	Table  string
	Column string
	Label  string
}

// Kind describes one lookup entity.
type Kind struct {
	Route      string
	Table      string
	Label      string
	Dependents []Dependent
	// HasAccess marks roles, which carry an access level next to the name.
	HasAccess bool
}

var (
	Category = Kind{
		Route: "category",
		Table: "categories",
		Label: "หมวดหมู่",
		Dependents: []Dependent{
			{Table: "indicators", Column: "category_id", Label: "ตัวชี้วัด"},
		},
	}
	Unit = Kind{
		Route: "unit",
		Table: "units",
		Label: "หน่วยนับ",
		Dependents: []Dependent{
			{Table: "indicators", Column: "unit_id", Label: "ตัวชี้วัด"},
		},
	}
	JobTitle = Kind{
		Route: "job-title",
		Table: "job_titles",
		Label: "ตำแหน่งงาน",
		Dependents: []Dependent{
			{Table: "user_job_titles", Column: "job_title_id", Label: "บุคลากร"},
			{Table: "indicator_job_titles", Column: "job_title_id", Label: "ตัวชี้วัด"},
		},
	}
	Department = Kind{
		Route: "department",
		Table: "departments",
		Label: "หน่วยงาน",
		Dependents: []Dependent{
			{Table: "users", Column: "department_id", Label: "บุคลากร"},
		},
	}
	Role = Kind{
		Route: "role",
		Table: "roles",
		Label: "บทบาท",
		Dependents: []Dependent{
			{Table: "user_roles", Column: "role_id", Label: "บุคลากร"},
		},
		HasAccess: true,
	}
)

// Kinds lists every lookup entity in mount order.
var Kinds = []Kind{Category, Unit, JobTitle, Department, Role}
