package merge

import "strings"

// Privilege names one of the permissions of a pipeline group.
type Privilege string

const (
	PrivilegeView    Privilege = "view"
	PrivilegeOperate Privilege = "operate"
	PrivilegeAdmin   Privilege = "admin"
)

// AdminsConfig lists users and roles granted one privilege. Names are
// compared ignoring case.
type AdminsConfig struct {
	Users []string `yaml:"users,omitempty" json:"users,omitempty"`
	Roles []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// IsEmpty reports whether nobody is listed.
func (a AdminsConfig) IsEmpty() bool {
	return len(a.Users) == 0 && len(a.Roles) == 0
}

// Has reports whether user, or any of roles, is listed.
func (a AdminsConfig) Has(user string, roles []string) bool {
	if containsFold(a.Users, user) {
		return true
	}
	for _, r := range roles {
		if containsFold(a.Roles, r) {
			return true
		}
	}
	return false
}

// HasRole reports whether role is listed.
func (a AdminsConfig) HasRole(role string) bool {
	return containsFold(a.Roles, role)
}

func (a AdminsConfig) clone() AdminsConfig {
	return AdminsConfig{
		Users: append([]string(nil), a.Users...),
		Roles: append([]string(nil), a.Roles...),
	}
}

// Authorization is the permission block of a pipeline group. Group admins
// implicitly hold view and operate.
type Authorization struct {
	View    AdminsConfig `yaml:"view,omitempty" json:"view,omitempty"`
	Operate AdminsConfig `yaml:"operate,omitempty" json:"operate,omitempty"`
	Admin   AdminsConfig `yaml:"admins,omitempty" json:"admins,omitempty"`
}

// IsDefined reports whether any privilege lists a user or role.
func (a *Authorization) IsDefined() bool {
	return a != nil && (!a.View.IsEmpty() || !a.Operate.IsEmpty() || !a.Admin.IsEmpty())
}

// HasViewPermission reports whether user or roles may view.
func (a *Authorization) HasViewPermission(user string, roles []string) bool {
	return a.View.Has(user, roles) || a.Admin.Has(user, roles)
}

// HasOperatePermission reports whether user or roles may operate.
func (a *Authorization) HasOperatePermission(user string, roles []string) bool {
	return a.Operate.Has(user, roles) || a.Admin.Has(user, roles)
}

// HasAdminPermission reports whether user or roles administer the group.
func (a *Authorization) HasAdminPermission(user string, roles []string) bool {
	return a.Admin.Has(user, roles)
}

// HasViewPermissionDefined reports whether the view section lists anyone.
func (a *Authorization) HasViewPermissionDefined() bool { return !a.View.IsEmpty() }

// HasOperatePermissionDefined reports whether the operate section lists anyone.
func (a *Authorization) HasOperatePermissionDefined() bool { return !a.Operate.IsEmpty() }

// HasAdminsDefined reports whether the admins section lists anyone.
func (a *Authorization) HasAdminsDefined() bool { return !a.Admin.IsEmpty() }

// PrivilegesOfRole lists the privileges granted to role, in view, operate,
// admin order.
func (a *Authorization) PrivilegesOfRole(role string) []Privilege {
	var out []Privilege
	if a.View.HasRole(role) {
		out = append(out, PrivilegeView)
	}
	if a.Operate.HasRole(role) {
		out = append(out, PrivilegeOperate)
	}
	if a.Admin.HasRole(role) {
		out = append(out, PrivilegeAdmin)
	}
	return out
}

// Clone returns a deep copy.
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	return &Authorization{View: a.View.clone(), Operate: a.Operate.clone(), Admin: a.Admin.clone()}
}

func containsFold(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, each := range list {
		if strings.EqualFold(each, s) {
			return true
		}
	}
	return false
}
