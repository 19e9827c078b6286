package rbac

// Role is an access level within a permission scope.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Wildcard matches any project, environment, or resource.
const Wildcard = "*"

// roleRanks is the total order over roles. Comparisons always go through
// ranks, never through the role strings themselves.
var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Rank returns a role's position in the hierarchy; unknown roles rank 0,
// below viewer.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Action is a named operation the dashboard can perform on a resource.
type Action string

const (
	ActionRead      Action = "read"
	ActionDiagram   Action = "diagram"
	ActionDeploy    Action = "deploy"
	ActionRestart   Action = "restart"
	ActionScale     Action = "scale"
	ActionPublish   Action = "publish"
	ActionManage    Action = "manage"
	ActionAuditRead Action = "audit_read"
)

// actionMinRole maps each action to the minimum role it requires. Anything
// absent from this table requires admin.
var actionMinRole = map[Action]Role{
	ActionRead:      RoleViewer,
	ActionDiagram:   RoleViewer,
	ActionDeploy:    RoleOperator,
	ActionRestart:   RoleOperator,
	ActionScale:     RoleOperator,
	ActionPublish:   RoleOperator,
	ActionManage:    RoleAdmin,
	ActionAuditRead: RoleAdmin,
}

// RequiredRole returns the minimum role for an action, defaulting to admin
// for unknown actions.
func RequiredRole(action Action) Role {
	if role, ok := actionMinRole[action]; ok {
		return role
	}
	return RoleAdmin
}

// Permission grants a role over a project/environment/resource scope.
type Permission struct {
	Project     string   `json:"project"`
	Environment string   `json:"environment"`
	Role        Role     `json:"role"`
	Resources   []string `json:"resources,omitempty"`
}

// Applies reports whether this permission covers the given scope.
func (p Permission) Applies(project, environment, resource string) bool {
	if p.Project != Wildcard && p.Project != project {
		return false
	}
	if p.Environment != Wildcard && p.Environment != environment {
		return false
	}
	return p.coversResource(resource)
}

func (p Permission) coversResource(resource string) bool {
	// An empty resource list means the whole scope; asking about "*" asks
	// whether anything at all is covered.
	if len(p.Resources) == 0 || resource == Wildcard {
		return true
	}
	for _, r := range p.Resources {
		if r == Wildcard || r == resource {
			return true
		}
	}
	return false
}

// HighestRole returns the best role among the permissions that apply to the
// scope, or the zero Role when none apply.
func HighestRole(permissions []Permission, project, environment, resource string) Role {
	var best Role
	for _, p := range permissions {
		if !p.Applies(project, environment, resource) {
			continue
		}
		if p.Role.Rank() > best.Rank() {
			best = p.Role
		}
	}
	return best
}

// CanPerform reports whether the permission set allows the action on the
// given scope: the highest applicable role must rank at least as high as the
// action's minimum role.
func CanPerform(permissions []Permission, action Action, project, environment, resource string) bool {
	required := RequiredRole(action).Rank()
	return HighestRole(permissions, project, environment, resource).Rank() >= required
}
