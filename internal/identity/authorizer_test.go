package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jsverre/stevedore/internal/model"
)

func TestAllowedPolicyTable(t *testing.T) {
	authz := NewAuthorizer()
	admin := &model.User{ID: "u1", Role: model.UserRoleAdmin}
	user := &model.User{ID: "u2", Role: model.UserRoleUser}

	tests := []struct {
		name          string
		user          *model.User
		action        string
		containerRole string
		want          bool
	}{
		{"admin can create", admin, ActionCreate, model.RoleWeb, true},
		{"admin can remove", admin, ActionRemove, model.RoleWorker, true},
		{"user cannot create", user, ActionCreate, model.RoleWeb, false},
		{"user cannot start", user, ActionStart, model.RoleWeb, false},
		{"user cannot stop", user, ActionStop, model.RoleWeb, false},
		{"user cannot remove", user, ActionRemove, model.RoleWeb, false},
		{"user can view", user, ActionView, model.RoleWeb, true},
		{"user can read logs", user, ActionLogs, model.RoleWorker, true},
		{"user can read stats", user, ActionStats, model.RoleWeb, true},
		{"admin sees admin-managed", admin, ActionView, model.RoleAdminManaged, true},
		{"user blind to admin-managed", user, ActionView, model.RoleAdminManaged, false},
		{"user cannot read admin-managed logs", user, ActionLogs, model.RoleAdminManaged, false},
		{"unknown action denied", admin, "container.teleport", model.RoleWeb, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.Allowed(tt.user, tt.action, tt.containerRole))
		})
	}
}

func TestAllowedNilUser(t *testing.T) {
	authz := NewAuthorizer()
	assert.False(t, authz.Allowed(nil, ActionView, model.RoleWeb))
}
