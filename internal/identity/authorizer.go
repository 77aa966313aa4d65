package identity

import (
	"github.com/jsverre/stevedore/internal/model"
)

// Container actions subject to authorization.
const (
	ActionCreate = "container.create"
	ActionStart  = "container.start"
	ActionStop   = "container.stop"
	ActionRemove = "container.remove"
	ActionView   = "container.view"
	ActionLogs   = "container.logs"
	ActionStats  = "container.stats"
)

// policy is the closed action-by-role permission table. Mutating actions are
// admin-only; read actions are open to every authenticated role.
var policy = map[string]map[string]bool{
	ActionCreate: {model.UserRoleAdmin: true},
	ActionStart:  {model.UserRoleAdmin: true},
	ActionStop:   {model.UserRoleAdmin: true},
	ActionRemove: {model.UserRoleAdmin: true},
	ActionView:   {model.UserRoleAdmin: true, model.UserRoleUser: true},
	ActionLogs:   {model.UserRoleAdmin: true, model.UserRoleUser: true},
	ActionStats:  {model.UserRoleAdmin: true, model.UserRoleUser: true},
}

// Authorizer answers whether a user may perform an action on a container.
type Authorizer struct{}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// Allowed evaluates the policy table plus the container-role gate: containers
// declared admin-managed are only visible and operable by admins.
func (a *Authorizer) Allowed(user *model.User, action string, containerRole string) bool {
	if user == nil {
		return false
	}
	if containerRole == model.RoleAdminManaged && user.Role != model.UserRoleAdmin {
		return false
	}
	roles, ok := policy[action]
	if !ok {
		return false
	}
	return roles[user.Role]
}
