package rbac

type Role string
type Action string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionAuthorSOP       Action = "author_sop"
	ActionPublishSOP      Action = "publish_sop"
	ActionManageKnowledge Action = "manage_knowledge"
	ActionManageReadiness Action = "manage_readiness"
	ActionUpdateReadiness Action = "update_readiness"
	ActionRunAI           Action = "run_ai"
	ActionExport          Action = "export"
	ActionManageOrg       Action = "manage_org"
	ActionManageMembers   Action = "manage_members"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionManageMembers
	case RoleStaff:
		return action == ActionRead || action == ActionUpdateReadiness || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStaff, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleStaff
	}
}
