package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	// RoleNone is the role of a user without a membership.
	RoleNone Role = ""
)

const (
	ActionOpenPage    Action = "open_page"
	ActionEditPage    Action = "edit_page"
	ActionListMembers Action = "list_members"
	ActionInvite      Action = "invite"
	ActionRename      Action = "rename"
)

// Policy holds the workspace rules that are configurable per deployment.
type Policy struct {
	MembersMayInvite bool
}

// PolicyFor maps the INVITE_POLICY setting to a Policy.
func PolicyFor(invitePolicy string) Policy {
	return Policy{MembersMayInvite: invitePolicy != "owners"}
}

func (p Policy) Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		switch action {
		case ActionOpenPage, ActionEditPage, ActionListMembers:
			return true
		case ActionInvite:
			return p.MembersMayInvite
		default:
			return false
		}
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleMember:
		return Role(role)
	default:
		return RoleNone
	}
}
