package service

// RoleSuperadmin is the elevated role required to trigger evaluation runs
const RoleSuperadmin = "superadmin"

// Actor is the authenticated principal performing an operation
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor holds the given role
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// EnsureElevatedRole is the access-control gate for privileged operations.
func EnsureElevatedRole(actor Actor) error {
	if !actor.HasRole(RoleSuperadmin) {
		return ErrUnauthorized
	}
	return nil
}
