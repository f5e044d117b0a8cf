package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	// ActionRead covers published forms and the caller's own profile.
	ActionRead   Action = "read"
	ActionSubmit Action = "submit"
	// ActionManage covers form authoring and submission review.
	ActionManage Action = "manage"
	ActionAdmin  Action = "admin"
)

// Can reports whether role may perform action. Admins may do anything;
// unknown roles may do nothing.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionSubmit
	default:
		return false
	}
}

// Normalize maps stored role strings onto a known Role. Unknown values get
// the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

// Valid reports whether role names a role class.
func Valid(role string) bool {
	return Role(role) == RoleUser || Role(role) == RoleAdmin
}
