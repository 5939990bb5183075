package rbac

import (
	"github.com/jwalitptl/authz-api/internal/model"
)

func grant(resource string, actions ...model.Action) []model.Permission {
	perms := make([]model.Permission, 0, len(actions))
	for _, a := range actions {
		perms = append(perms, model.Permission{Resource: resource, Action: a})
	}
	return perms
}

func join(groups ...[]model.Permission) []model.Permission {
	var out []model.Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	crudShare = []model.Action{
		model.ActionCreate, model.ActionRead, model.ActionUpdate, model.ActionDelete, model.ActionShare,
	}

	adminPermissions = grant(model.AnyResource, crudShare...)

	doctorPermissions = join(
		grant(model.ResourcePatient, crudShare...),
		grant(model.ResourceAssessment, model.ActionCreate, model.ActionRead),
		grant(model.ResourceReport, model.ActionCreate, model.ActionRead),
		grant(model.ResourceDrug, model.ActionRead),
	)

	nursePermissions = join(
		grant(model.ResourcePatient, model.ActionRead, model.ActionUpdate),
		grant(model.ResourceAssessment, model.ActionRead),
		grant(model.ResourceReport, model.ActionRead, model.ActionCreate),
		grant(model.ResourceDrug, model.ActionRead),
	)

	userPermissions = join(
		grant(model.ResourcePatient, model.ActionRead),
		grant(model.ResourceAssessment, model.ActionRead),
		grant(model.ResourceReport, model.ActionRead),
		grant(model.ResourceDrug, model.ActionRead),
	)
)

// Permissions returns the static permission set of role. Unknown roles get
// nothing. The returned slice must not be modified.
func Permissions(role model.Role) []model.Permission {
	switch role {
	case model.RoleAdmin:
		return adminPermissions
	case model.RoleDoctor:
		return doctorPermissions
	case model.RoleNurse:
		return nursePermissions
	case model.RoleUser:
		return userPermissions
	case model.RoleGuest:
		return nil
	default:
		return nil
	}
}

// HasPermission reports whether role is granted perm. Admin holds a wildcard
// resource entry so resource types added later are covered without a table
// edit.
func HasPermission(role model.Role, perm model.Permission) bool {
	for _, p := range Permissions(role) {
		if p.Matches(perm) {
			return true
		}
	}
	return false
}

// HasRole reports whether role is one of allowed
func HasRole(role model.Role, allowed ...model.Role) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}
