package model

import "time"

// Subject is the authenticated actor making a request
type Subject struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	Role           Role    `json:"role"`
	OrganizationID *int64  `json:"organization_id,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`

	// Degraded is set when the directory could not be reached and the
	// subject was built from the verified credential alone.
	Degraded bool `json:"degraded,omitempty"`
}

// InOrganization reports whether the subject belongs to orgID
func (s *Subject) InOrganization(orgID *int64) bool {
	return s.OrganizationID != nil && orgID != nil && *s.OrganizationID == *orgID
}

// DirectoryUser is the directory record backing a Subject
type DirectoryUser struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	Role           string     `db:"role" json:"role"`
	OrganizationID *int64     `db:"organization_id" json:"organization_id,omitempty"`
	DisplayName    *string    `db:"display_name" json:"display_name,omitempty"`
	LastLoginAt    *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Identity is what the credential verifier vouches for
type Identity struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}
