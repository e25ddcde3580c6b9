package access

import (
	"context"
	"testing"

	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Authorize(t *testing.T) {
	ctx := context.Background()
	p, err := NewPolicy(ctx)
	require.NoError(t, err)

	admin := Actor{ID: "a1", Role: models.RoleAdmin}
	alice := Actor{ID: "u1", Role: models.RoleUser}

	tests := []struct {
		name  string
		req   Request
		allow bool
	}{
		{"admin updates other", Request{Actor: admin, Action: ActionUpdate, TargetID: "u2", Fields: []string{"username"}}, true},
		{"admin changes role", Request{Actor: admin, Action: ActionUpdate, TargetID: "u2", Fields: []string{"role"}}, true},
		{"admin deletes other", Request{Actor: admin, Action: ActionDelete, TargetID: "u2"}, true},
		{"admin toggles", Request{Actor: admin, Action: ActionToggleStatus, TargetID: "u2"}, true},
		{"admin lists all", Request{Actor: admin, Action: ActionListAll}, true},
		{"admin creates admin", Request{Actor: admin, Action: ActionCreateAdmin}, true},

		{"self updates username", Request{Actor: alice, Action: ActionUpdate, TargetID: "u1", Fields: []string{"username", "password"}}, true},
		{"self update without fields", Request{Actor: alice, Action: ActionUpdate, TargetID: "u1"}, true},
		{"self deletes", Request{Actor: alice, Action: ActionDelete, TargetID: "u1"}, true},
		{"self views", Request{Actor: alice, Action: ActionView, TargetID: "u1"}, true},
		{"self uploads image", Request{Actor: alice, Action: ActionUploadImage, TargetID: "u1"}, true},

		{"self changes role", Request{Actor: alice, Action: ActionUpdate, TargetID: "u1", Fields: []string{"username", "role"}}, false},
		{"self changes active", Request{Actor: alice, Action: ActionUpdate, TargetID: "u1", Fields: []string{"active"}}, false},
		{"user updates other", Request{Actor: alice, Action: ActionUpdate, TargetID: "u2", Fields: []string{"username"}}, false},
		{"user deletes other", Request{Actor: alice, Action: ActionDelete, TargetID: "u2"}, false},
		{"user uploads for other", Request{Actor: alice, Action: ActionUploadImage, TargetID: "u2"}, false},
		{"user toggles self", Request{Actor: alice, Action: ActionToggleStatus, TargetID: "u1"}, false},
		{"user lists all", Request{Actor: alice, Action: ActionListAll}, false},
		{"user creates admin", Request{Actor: alice, Action: ActionCreateAdmin}, false},
		{"anonymous creates admin", Request{Action: ActionCreateAdmin}, false},
		{"anonymous with empty target", Request{Action: ActionUpdate}, false},
		{"unknown role", Request{Actor: Actor{ID: "x", Role: "root"}, Action: ActionDelete, TargetID: "y"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, tt.req)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrForbidden)
		})
	}
}

func TestPolicy_CanListAll(t *testing.T) {
	ctx := context.Background()
	p, err := NewPolicy(ctx)
	require.NoError(t, err)

	ok, err := p.CanListAll(ctx, Actor{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.CanListAll(ctx, Actor{ID: "u1", Role: models.RoleUser})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolicy_DeniedMessage(t *testing.T) {
	p, err := NewPolicy(context.Background())
	require.NoError(t, err)

	err = p.Authorize(context.Background(), Request{
		Actor:    Actor{ID: "u1", Role: models.RoleUser},
		Action:   ActionUpdate,
		TargetID: "u2",
	})
	assert.Equal(t, "You are not authorized to update this user", common.Message(err, ""))
}
