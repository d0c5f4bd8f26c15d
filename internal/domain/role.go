package domain

// Role is the trust level of a caller.
type Role string

const (
	RoleAnonymous Role = "anon"
	RoleCitizen   Role = "user"
	RoleAdmin     Role = "admin"
)

// IsOperator reports whether the role may see triage data.
func (r Role) IsOperator() bool {
	return r == RoleAdmin
}

// Caller identifies who is invoking an operation. Authentication happens
// upstream; the service only trusts the role it is handed.
type Caller struct {
	Name string
	Role Role
}

// Anonymous returns a caller with no identity.
func Anonymous() Caller {
	return Caller{Role: RoleAnonymous}
}

// Citizen returns a citizen caller with the given display name.
func Citizen(name string) Caller {
	return Caller{Name: name, Role: RoleCitizen}
}

// Admin returns an operator caller.
func Admin(name string) Caller {
	return Caller{Name: name, Role: RoleAdmin}
}
