package rbac

import (
	"testing"

	"github.com/gnomegg/chatd/pkg/model"
)

func TestModeratePermission(t *testing.T) {
	type tcase struct {
		roles model.RoleSet
		want  bool
	}

	tcases := map[string]tcase{
		"moderator":     {roles: model.RoleModerator, want: true},
		"administrator": {roles: model.RoleAdministrator, want: true},
		"admin_and_mod": {roles: model.RoleAdministrator | model.RoleModerator, want: true},
		"vip":           {roles: model.RoleVIP, want: false},
		"subscriber":    {roles: model.RoleSubscriber, want: false},
		"no_roles":      {roles: 0, want: false},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := HasPermission(tc.roles, PermModerate); got != tc.want {
				t.Fatalf("HasPermission(%v, PermModerate) = %t, want %t", tc.roles, got, tc.want)
			}
		})
	}
}

func TestSubOnlyExemption(t *testing.T) {
	exempt := []model.RoleSet{
		model.RoleSubscriber,
		model.RoleVIP,
		model.RoleModerator,
		model.RoleAdministrator,
		model.RoleProtected,
		model.RoleBot,
	}
	for _, rs := range exempt {
		if !HasPermission(rs, PermChatInSubOnly) {
			t.Fatalf("role %v should be exempt from sub-only", rs)
		}
	}
	if HasPermission(0, PermChatInSubOnly) {
		t.Fatalf("unprivileged chatter should be blocked in sub-only")
	}
}

func TestRequirePermission(t *testing.T) {
	if msg := RequirePermission(model.RoleModerator, PermModerate); msg != "" {
		t.Fatalf("expected empty message, got %q", msg)
	}
	if msg := RequirePermission(0, PermModerate); msg == "" {
		t.Fatalf("expected denial message")
	}
}
