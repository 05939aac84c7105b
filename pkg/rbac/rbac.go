// Package rbac provides role-based permission checks for chat commands.
package rbac

import "github.com/gnomegg/chatd/pkg/model"

// Permission represents a specific action checked against a role set.
type Permission int

const (
	// PermModerate covers mute, unmute, ban, unban and subonly commands.
	PermModerate Permission = iota
	// PermChatInSubOnly allows sending messages while sub-only mode is on.
	PermChatInSubOnly
)

// requiredFlags maps each permission to the role flags that grant it; any
// one matching flag suffices. Administrator is not distinguished from
// moderator for moderation commands.
var requiredFlags = map[Permission]model.RoleSet{
	PermModerate:      model.RoleModerator | model.RoleAdministrator,
	PermChatInSubOnly: model.RoleSubscriber | model.RoleVIP | model.RoleModerator | model.RoleAdministrator | model.RoleProtected | model.RoleBot,
}

// HasPermission checks whether a role set grants the permission.
func HasPermission(roles model.RoleSet, perm Permission) bool {
	flags, ok := requiredFlags[perm]
	if !ok {
		return false
	}
	return roles.HasAny(flags)
}

// RequirePermission returns an error message if the role set lacks the
// permission, or empty string if allowed.
func RequirePermission(roles model.RoleSet, perm Permission) string {
	if HasPermission(roles, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires a privileged role"
}

func permName(p Permission) string {
	switch p {
	case PermModerate:
		return "moderate"
	case PermChatInSubOnly:
		return "chat_in_subonly"
	default:
		return "unknown"
	}
}
