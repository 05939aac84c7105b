package store

import (
	"context"
	"errors"
	"time"

	"github.com/gnomegg/chatd/pkg/model"
)

// ErrUnknownUser is returned by directory writes that target a username
// without an account row.
var ErrUnknownUser = errors.New("store: unknown user")

// ModerationRepository persists mutes and bans so they survive a restart.
// Implementations include the default SQLite repository, a Redis-backed
// repository for deployments that already run Redis, and an in-memory
// repository for testing.
type ModerationRepository interface {
	// Close closes the underlying storage connection.
	Close() error

	// SaveMute inserts or replaces the mute for its subject.
	SaveMute(ctx context.Context, m model.Mute) error

	// DeleteMute removes the mute for the given username. Deleting a
	// username that has no mute is not an error.
	DeleteMute(ctx context.Context, username string) error

	// SaveBan inserts or replaces the ban for its subject.
	SaveBan(ctx context.Context, b model.Ban) error

	// DeleteBan removes the ban for the given username. Deleting a
	// username that has no ban is not an error.
	DeleteBan(ctx context.Context, username string) error

	// ActiveMutes returns every mute still active at the given instant.
	ActiveMutes(ctx context.Context, now time.Time) ([]model.Mute, error)

	// ActiveBans returns every ban still active at the given instant.
	ActiveBans(ctx context.Context, now time.Time) ([]model.Ban, error)
}

// UserDirectory resolves usernames to accounts and role flags. Accounts are
// owned by the surrounding site; the chat core only reads them, except for
// EnsureUser which backfills a row on first connect.
type UserDirectory interface {
	// Close closes the underlying storage connection.
	Close() error

	// Exists reports whether an account with this username has ever been seen.
	Exists(ctx context.Context, username string) (bool, error)

	// Roles returns the role flags for a username. Unknown usernames get an
	// empty flag set and no error.
	Roles(ctx context.Context, username string) (model.RoleSet, error)

	// EnsureUser creates an account row for the username if none exists and
	// returns the account either way.
	EnsureUser(ctx context.Context, username string) (*model.User, error)

	// SetRoles replaces the role flags for an existing username.
	SetRoles(ctx context.Context, username string, roles model.RoleSet) error
}
