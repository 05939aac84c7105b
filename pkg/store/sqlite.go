// Package store provides SQLite and Redis backed persistence for the chat
// core: moderation state that must survive a restart, plus the account
// directory used to resolve usernames and role flags.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gnomegg/chatd/pkg/model"
)

// SQLite backs both the ModerationRepository and the UserDirectory with a
// single database file.
type SQLite struct {
	db *sql.DB
}

var (
	_ ModerationRepository = (*SQLite)(nil)
	_ UserDirectory        = (*SQLite)(nil)
)

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	// Moderation timestamps are stored as unix nanoseconds so expiry math
	// round-trips exactly. Durations are nanoseconds, 0 means permanent.
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 20),
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS roles (
		user_id       INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		administrator INTEGER NOT NULL DEFAULT 0,
		moderator     INTEGER NOT NULL DEFAULT 0,
		vip           INTEGER NOT NULL DEFAULT 0,
		protected     INTEGER NOT NULL DEFAULT 0,
		subscriber    INTEGER NOT NULL DEFAULT 0,
		bot           INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS mutes (
		username     TEXT    PRIMARY KEY,
		duration     INTEGER NOT NULL DEFAULT 0,
		initiated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bans (
		username     TEXT    PRIMARY KEY,
		duration     INTEGER NOT NULL DEFAULT 0,
		initiated_at INTEGER NOT NULL,
		reason       TEXT    NOT NULL DEFAULT '',
		ip           TEXT    NOT NULL DEFAULT ''
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLite) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLite) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

func (s *SQLite) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ---- Moderation ----

// SaveMute inserts or replaces the mute for its subject.
func (s *SQLite) SaveMute(ctx context.Context, m model.Mute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutes (username, duration, initiated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			duration     = excluded.duration,
			initiated_at = excluded.initiated_at`,
		m.Subject, int64(m.Duration), m.IssuedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save mute: %w", err)
	}
	return nil
}

// DeleteMute removes the mute for the given username.
func (s *SQLite) DeleteMute(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM mutes WHERE username = ?", username); err != nil {
		return fmt.Errorf("store: delete mute: %w", err)
	}
	return nil
}

// SaveBan inserts or replaces the ban for its subject.
func (s *SQLite) SaveBan(ctx context.Context, b model.Ban) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (username, duration, initiated_at, reason, ip) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			duration     = excluded.duration,
			initiated_at = excluded.initiated_at,
			reason       = excluded.reason,
			ip           = excluded.ip`,
		b.Subject, int64(b.Duration), b.IssuedAt.UnixNano(), b.Reason, b.IP)
	if err != nil {
		return fmt.Errorf("store: save ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban for the given username.
func (s *SQLite) DeleteBan(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM bans WHERE username = ?", username); err != nil {
		return fmt.Errorf("store: delete ban: %w", err)
	}
	return nil
}

// ActiveMutes returns every mute still active at the given instant.
func (s *SQLite) ActiveMutes(ctx context.Context, now time.Time) ([]model.Mute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, duration, initiated_at FROM mutes
		WHERE duration = 0 OR initiated_at + duration > ?`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: list mutes: %w", err)
	}
	defer rows.Close()

	var mutes []model.Mute
	for rows.Next() {
		var (
			m        model.Mute
			duration int64
			issued   int64
		)
		if err := rows.Scan(&m.Subject, &duration, &issued); err != nil {
			return nil, fmt.Errorf("store: scan mute: %w", err)
		}
		m.Duration = time.Duration(duration)
		m.IssuedAt = time.Unix(0, issued).UTC()
		mutes = append(mutes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list mutes: %w", err)
	}
	return mutes, nil
}

// ActiveBans returns every ban still active at the given instant.
func (s *SQLite) ActiveBans(ctx context.Context, now time.Time) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, duration, initiated_at, reason, ip FROM bans
		WHERE duration = 0 OR initiated_at + duration > ?`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	defer rows.Close()

	var bans []model.Ban
	for rows.Next() {
		var (
			b        model.Ban
			duration int64
			issued   int64
		)
		if err := rows.Scan(&b.Subject, &duration, &issued, &b.Reason, &b.IP); err != nil {
			return nil, fmt.Errorf("store: scan ban: %w", err)
		}
		b.Duration = time.Duration(duration)
		b.IssuedAt = time.Unix(0, issued).UTC()
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	return bans, nil
}

// ---- Directory ----

// Exists reports whether an account with this username has ever been seen.
func (s *SQLite) Exists(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lookup user: %w", err)
	}
	return true, nil
}

// Roles returns the role flags for a username. Unknown usernames get an
// empty flag set and no error.
func (s *SQLite) Roles(ctx context.Context, username string) (model.RoleSet, error) {
	var administrator, moderator, vip, protected, subscriber, bot int
	err := s.db.QueryRowContext(ctx, `
		SELECT r.administrator, r.moderator, r.vip, r.protected, r.subscriber, r.bot
		FROM roles r JOIN users u ON u.id = r.user_id
		WHERE u.username = ?`, username).
		Scan(&administrator, &moderator, &vip, &protected, &subscriber, &bot)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read roles: %w", err)
	}

	var roles model.RoleSet
	if administrator != 0 {
		roles = roles.With(model.RoleAdministrator)
	}
	if moderator != 0 {
		roles = roles.With(model.RoleModerator)
	}
	if vip != 0 {
		roles = roles.With(model.RoleVIP)
	}
	if protected != 0 {
		roles = roles.With(model.RoleProtected)
	}
	if subscriber != 0 {
		roles = roles.With(model.RoleSubscriber)
	}
	if bot != 0 {
		roles = roles.With(model.RoleBot)
	}
	return roles, nil
}

// EnsureUser creates an account row for the username if none exists and
// returns the account either way.
func (s *SQLite) EnsureUser(ctx context.Context, username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username) VALUES (?)
		ON CONFLICT(username) DO NOTHING`, username); err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}

	var (
		u       model.User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &created)
	if err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	if u.CreatedAt, err = time.ParseInLocation("2006-01-02 15:04:05", created, time.UTC); err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (user_id) VALUES (?)
		ON CONFLICT(user_id) DO NOTHING`, u.ID); err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	roles, err := s.Roles(ctx, username)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

// SetRoles replaces the role flags for an existing username.
func (s *SQLite) SetRoles(ctx context.Context, username string, roles model.RoleSet) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET
			administrator = ?, moderator = ?, vip = ?,
			protected = ?, subscriber = ?, bot = ?
		WHERE user_id = (SELECT id FROM users WHERE username = ?)`,
		boolToInt(roles.Has(model.RoleAdministrator)),
		boolToInt(roles.Has(model.RoleModerator)),
		boolToInt(roles.Has(model.RoleVIP)),
		boolToInt(roles.Has(model.RoleProtected)),
		boolToInt(roles.Has(model.RoleSubscriber)),
		boolToInt(roles.Has(model.RoleBot)),
		username)
	if err != nil {
		return fmt.Errorf("store: set roles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set roles: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: set roles %q: %w", username, ErrUnknownUser)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
