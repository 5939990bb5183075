package model

// Operation is a fine-grained action on a concrete resource instance
type Operation string

const (
	OpView    Operation = "view"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpShare   Operation = "share"
	OpUnshare Operation = "unshare"
)

func (o Operation) Valid() bool {
	switch o {
	case OpView, OpCreate, OpUpdate, OpDelete, OpShare, OpUnshare:
		return true
	}
	return false
}

// Sensitive reports whether the operation is destructive or irreversible
func (o Operation) Sensitive() bool {
	return o == OpDelete || o == OpShare || o == OpUnshare
}

// AccessDescriptor is the ownership and sharing metadata of a protected record
type AccessDescriptor struct {
	ResourceID     string   `db:"id" json:"resource_id"`
	CreatedBy      *string  `db:"created_by" json:"created_by,omitempty"`
	OrganizationID *int64   `db:"organization_id" json:"organization_id,omitempty"`
	SharedWith     []string `db:"-" json:"shared_with,omitempty"`
}

// OwnedBy reports whether subjectID created the record
func (d *AccessDescriptor) OwnedBy(subjectID string) bool {
	return d.CreatedBy != nil && *d.CreatedBy == subjectID
}

// SharedWithSubject reports whether the record is shared with subjectID
func (d *AccessDescriptor) SharedWithSubject(subjectID string) bool {
	for _, id := range d.SharedWith {
		if id == subjectID {
			return true
		}
	}
	return false
}

// AccessCheckRequest asks for a decision on a concrete resource
type AccessCheckRequest struct {
	Resource   string    `json:"resource" binding:"required" validate:"required"`
	ResourceID string    `json:"resource_id" binding:"required" validate:"required"`
	Operation  Operation `json:"operation" binding:"required" validate:"required,oneof=view create update delete share unshare"`
}

// PermissionCheckRequest asks for a coarse role-based decision
type PermissionCheckRequest struct {
	Resource string `json:"resource" validate:"required"`
	Action   Action `json:"action" validate:"required,oneof=create read update delete share"`
}

// AccessDecision is the result returned to callers of the decision API
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
