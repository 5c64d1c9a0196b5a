package rbac

type Role string
type Action string

const (
	RoleViewer Role = "Viewer"
	RoleMember Role = "Member"
	RoleOwner  Role = "Owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}
