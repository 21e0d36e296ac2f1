package rbac

type Role string
type Action string

const (
	RoleAdmin          Role = "Admin"
	RoleProjectManager Role = "Project Manager"
	RoleDeveloper      Role = "Developer"
	RoleSubmitter      Role = "Submitter"
)

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionManage     Action = "manage"
	ActionAdminister Action = "administer"
)

// Can reports whether a role may perform an action. Write covers issue
// and report mutation, manage covers project mutation, administer
// covers user administration.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleProjectManager:
		return action == ActionRead || action == ActionWrite || action == ActionManage
	case RoleDeveloper, RoleSubmitter:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleProjectManager, RoleDeveloper, RoleSubmitter:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleSubmitter
}
