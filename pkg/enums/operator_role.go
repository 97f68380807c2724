package enums

import "slices"

// OperatorRole gates the internal read API. Admins and support staff see
// the same data today; the split exists so write endpoints can be admin-only.
type OperatorRole string

const (
	OperatorRoleAdmin   OperatorRole = "admin"
	OperatorRoleSupport OperatorRole = "support"
)

var operatorRoles = []OperatorRole{OperatorRoleAdmin, OperatorRoleSupport}

func (r OperatorRole) String() string { return string(r) }

func (r OperatorRole) IsValid() bool { return slices.Contains(operatorRoles, r) }

func ParseOperatorRole(value string) (OperatorRole, error) {
	return parseEnum("operator role", value, operatorRoles)
}
