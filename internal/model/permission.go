package model

import "fmt"

// Action is a coarse-grained permission verb
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// Actions lists every permission verb
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionShare}

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionShare:
		return true
	}
	return false
}

// Resource types known to the deployment
const (
	ResourcePatient    = "patient"
	ResourceAssessment = "assessment"
	ResourceReport     = "report"
	ResourceDrug       = "drug"

	// AnyResource matches every resource type in a permission entry
	AnyResource = "*"
)

// Permission pairs a resource type with an action
type Permission struct {
	Resource string `json:"resource"`
	Action   Action `json:"action"`
}

// Matches reports whether the entry p grants the requested permission
func (p Permission) Matches(requested Permission) bool {
	return (p.Resource == AnyResource || p.Resource == requested.Resource) && p.Action == requested.Action
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}
