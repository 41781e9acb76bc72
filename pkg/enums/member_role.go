package enums

import "slices"

// MemberRole is the platform-level role carried in access tokens.
type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleStaff  MemberRole = "staff"
	MemberRoleAdmin  MemberRole = "admin"
)

var validMemberRoles = []MemberRole{
	MemberRoleMember,
	MemberRoleStaff,
	MemberRoleAdmin,
}

// String implements fmt.Stringer.
func (m MemberRole) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MemberRole.
func (m MemberRole) IsValid() bool {
	return slices.Contains(validMemberRoles, m)
}

// IsStaff reports whether the role may act on the staff console.
func (m MemberRole) IsStaff() bool {
	return m == MemberRoleStaff || m == MemberRoleAdmin
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	return parse(validMemberRoles, value, "member role")
}
