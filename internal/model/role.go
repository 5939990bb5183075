package model

import "fmt"

// Role is a named privilege tier. The set is closed.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleUser   Role = "user"
	RoleNurse  Role = "nurse"
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// Roles lists every role in ascending privilege order
var Roles = []Role{RoleGuest, RoleUser, RoleNurse, RoleDoctor, RoleAdmin}

// Level returns the privilege level used for ordering comparisons.
// Unknown roles rank below guest.
func (r Role) Level() int {
	switch r {
	case RoleGuest:
		return 0
	case RoleUser:
		return 10
	case RoleNurse:
		return 20
	case RoleDoctor:
		return 30
	case RoleAdmin:
		return 100
	default:
		return -1
	}
}

// AtLeast reports whether r is as privileged as other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Level() >= other.Level()
}

func (r Role) Valid() bool {
	return r.Level() >= 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a directory value into a Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
