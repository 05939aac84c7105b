// Package model defines the core domain types for the chat relay.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxUsernameLength = 20

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters or underscores")

// RoleSet is a set of independent role flags. Roles do not form a
// hierarchy: an administrator is not implicitly a moderator unless both
// flags are set.
type RoleSet uint8

const (
	RoleAdministrator RoleSet = 1 << iota
	RoleModerator
	RoleVIP
	RoleProtected
	RoleSubscriber
	RoleBot
)

// Has reports whether every flag in r is set.
func (rs RoleSet) Has(r RoleSet) bool {
	return rs&r == r
}

// HasAny reports whether at least one flag in r is set.
func (rs RoleSet) HasAny(r RoleSet) bool {
	return rs&r != 0
}

// With returns a copy of the set with the given flags added.
func (rs RoleSet) With(r RoleSet) RoleSet {
	return rs | r
}

func (rs RoleSet) String() string {
	if rs == 0 {
		return "none"
	}
	names := []struct {
		flag RoleSet
		name string
	}{
		{RoleAdministrator, "administrator"},
		{RoleModerator, "moderator"},
		{RoleVIP, "vip"},
		{RoleProtected, "protected"},
		{RoleSubscriber, "subscriber"},
		{RoleBot, "bot"},
	}
	var parts []string
	for _, n := range names {
		if rs.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseRoles converts a comma-separated list of role names to a RoleSet.
// Unrecognised names are ignored.
func ParseRoles(s string) RoleSet {
	var rs RoleSet
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "administrator", "admin":
			rs |= RoleAdministrator
		case "moderator", "mod":
			rs |= RoleModerator
		case "vip":
			rs |= RoleVIP
		case "protected":
			rs |= RoleProtected
		case "subscriber", "sub":
			rs |= RoleSubscriber
		case "bot":
			rs |= RoleBot
		}
	}
	return rs
}

// User represents a registered chatter. Accounts are owned by the external
// account subsystem; the core only reads the username and role flags.
type User struct {
	ID        int64
	Username  string
	Roles     RoleSet
	CreatedAt time.Time
}

// ValidateUsername checks that a username is 1-20 ASCII alphanumeric or
// underscore characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
