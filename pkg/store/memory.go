package store

import (
	"context"
	"sync"
	"time"

	"github.com/gnomegg/chatd/pkg/model"
)

// Memory implements both repository interfaces entirely in memory. It is
// meant for tests and for running without persistence; nothing survives a
// restart.
type Memory struct {
	mu     sync.Mutex
	mutes  map[string]model.Mute
	bans   map[string]model.Ban
	users  map[string]*model.User
	nextID int64
}

var (
	_ ModerationRepository = (*Memory)(nil)
	_ UserDirectory        = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mutes:  make(map[string]model.Mute),
		bans:   make(map[string]model.Ban),
		users:  make(map[string]*model.User),
		nextID: 1,
	}
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) SaveMute(ctx context.Context, mute model.Mute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutes[mute.Subject] = mute
	return nil
}

func (m *Memory) DeleteMute(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mutes, username)
	return nil
}

func (m *Memory) SaveBan(ctx context.Context, ban model.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[ban.Subject] = ban
	return nil
}

func (m *Memory) DeleteBan(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, username)
	return nil
}

func (m *Memory) ActiveMutes(ctx context.Context, now time.Time) ([]model.Mute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mutes []model.Mute
	for _, mute := range m.mutes {
		if mute.Active(now) {
			mutes = append(mutes, mute)
		}
	}
	return mutes, nil
}

func (m *Memory) ActiveBans(ctx context.Context, now time.Time) ([]model.Ban, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bans []model.Ban
	for _, ban := range m.bans {
		if ban.Active(now) {
			bans = append(bans, ban)
		}
	}
	return bans, nil
}

func (m *Memory) Exists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[username]
	return ok, nil
}

func (m *Memory) Roles(ctx context.Context, username string) (model.RoleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return 0, nil
	}
	return u.Roles, nil
}

func (m *Memory) EnsureUser(ctx context.Context, username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		copied := *u
		return &copied, nil
	}
	u := &model.User{
		ID:        m.nextID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	m.nextID++
	m.users[username] = u
	copied := *u
	return &copied, nil
}

func (m *Memory) SetRoles(ctx context.Context, username string, roles model.RoleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return ErrUnknownUser
	}
	u.Roles = roles
	return nil
}
