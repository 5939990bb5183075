package access

import (
	"github.com/jwalitptl/authz-api/internal/model"
)

// Grant bases reported on allowed decisions
const (
	BasisAdmin        = "admin"
	BasisOwner        = "owner"
	BasisOrganization = "organization"
	BasisShared       = "shared"
)

// CanAccess reports whether s may view the record described by d
func CanAccess(s *model.Subject, d *model.AccessDescriptor) bool {
	return accessBasis(s, d, true) != ""
}

// CanModify is CanAccess without the share-list branch. Being shared with a
// record grants read, never write.
func CanModify(s *model.Subject, d *model.AccessDescriptor) bool {
	return accessBasis(s, d, false) != ""
}

// CanDelete allows admins and the doctor who created the record. Organization
// membership is irrelevant.
func CanDelete(s *model.Subject, d *model.AccessDescriptor) bool {
	return ownershipBasis(s, d) != ""
}

// CanShare uses the same predicate as CanDelete
func CanShare(s *model.Subject, d *model.AccessDescriptor) bool {
	return ownershipBasis(s, d) != ""
}

func accessBasis(s *model.Subject, d *model.AccessDescriptor, viaShare bool) string {
	if s == nil || d == nil {
		return ""
	}
	switch {
	case s.Role == model.RoleAdmin:
		return BasisAdmin
	case d.OwnedBy(s.ID):
		return BasisOwner
	case s.InOrganization(d.OrganizationID) && (s.Role == model.RoleDoctor || s.Role == model.RoleNurse):
		return BasisOrganization
	case viaShare && d.SharedWithSubject(s.ID):
		return BasisShared
	}
	return ""
}

func ownershipBasis(s *model.Subject, d *model.AccessDescriptor) string {
	if s == nil || d == nil {
		return ""
	}
	switch {
	case s.Role == model.RoleAdmin:
		return BasisAdmin
	case s.Role == model.RoleDoctor && d.OwnedBy(s.ID):
		return BasisOwner
	}
	return ""
}

// DenialReason is the audit reason recorded when op is refused
func DenialReason(op model.Operation) string {
	switch op {
	case model.OpView:
		return "missing view permission"
	case model.OpUpdate:
		return "missing update permission"
	case model.OpDelete:
		return "missing delete permission"
	case model.OpShare, model.OpUnshare:
		return "missing share permission"
	default:
		return "unsupported operation"
	}
}

// Evaluate decides op for s against d. On allow the reason names the grant
// basis; on deny it names the missing permission.
func Evaluate(s *model.Subject, d *model.AccessDescriptor, op model.Operation) (bool, string) {
	var basis string
	switch op {
	case model.OpView:
		basis = accessBasis(s, d, true)
	case model.OpUpdate:
		basis = accessBasis(s, d, false)
	case model.OpDelete, model.OpShare, model.OpUnshare:
		basis = ownershipBasis(s, d)
	}
	if basis == "" {
		return false, DenialReason(op)
	}
	return true, basis
}
