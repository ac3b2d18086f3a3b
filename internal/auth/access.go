package auth

import (
	"fmt"
	"strings"
)

// Access is the closed set of permission levels a role can grant. Role rows carry a
// free-form Thai display name; authorization only ever looks at Access.
type Access int

const (
	AccessNone Access = iota
	AccessEmployee
	AccessPlanner
	AccessAdmin
)

// ParseAccess accepts the stored code of an access level.
func ParseAccess(code string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "admin":
		return AccessAdmin, nil
	case "planner":
		return AccessPlanner, nil
	case "employee":
		return AccessEmployee, nil
	default:
		return AccessNone, fmt.Errorf("unknown access level %q", code)
	}
}

// String returns the stored code.
func (a Access) String() string {
	switch a {
	case AccessAdmin:
		return "admin"
	case AccessPlanner:
		return "planner"
	case AccessEmployee:
		return "employee"
	case AccessNone:
		return ""
	}
	return ""
}

// Label is the Thai name shown on the default role of each level.
func (a Access) Label() string {
	switch a {
	case AccessAdmin:
		return "ผู้ดูแลระบบ"
	case AccessPlanner:
		return "เจ้าหน้าที่แผน"
	case AccessEmployee:
		return "บุคลากร"
	case AccessNone:
		return ""
	}
	return ""
}

// HomePath is the landing page the web client redirects a signed-in user to.
func (a Access) HomePath() string {
	switch a {
	case AccessAdmin, AccessPlanner:
		return "/admin"
	case AccessEmployee:
		return "/employee"
	case AccessNone:
		return "/login"
	}
	return "/login"
}

// Primary picks the highest access among codes, ignoring unknown ones.
func Primary(codes []string) Access {
	best := AccessNone
	for _, code := range codes {
		a, err := ParseAccess(code)
		if err != nil {
			continue
		}
		if a > best {
			best = a
		}
	}
	return best
}

// Allows reports whether holding a satisfies any of required.
func (a Access) Allows(required ...Access) bool {
	for _, r := range required {
		if a == r {
			return true
		}
	}
	return false
}
