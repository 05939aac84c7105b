// Package moderation tracks active mutes and bans with time-based expiry,
// and the global sub-only flag.
package moderation

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gnomegg/chatd/pkg/model"
)

const shardCount = 16

// shard holds the entries for a slice of the username space. Sharding keeps
// moderation actions on different users from contending on one lock.
type shard struct {
	mu    sync.RWMutex
	mutes map[string]model.Mute
	bans  map[string]model.Ban
}

// Store is the in-memory moderation state shared by all connection tasks.
// All operations are safe under concurrent invocation; replacement of an
// entry is atomic per subject and kind, so readers never observe a
// half-written entry.
type Store struct {
	shards  [shardCount]*shard
	subonly atomic.Bool
}

// NewStore creates an empty moderation store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{
			mutes: make(map[string]model.Mute),
			bans:  make(map[string]model.Ban),
		}
	}
	return s
}

func (s *Store) shardFor(subject string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return s.shards[h.Sum32()%shardCount]
}

// Mute upserts a mute entry for subject, replacing any prior mute
// (last-writer-wins, entries never stack).
func (s *Store) Mute(subject string, duration time.Duration, now time.Time) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	sh.mutes[subject] = model.Mute{Subject: subject, IssuedAt: now, Duration: duration}
	sh.mu.Unlock()
}

// Ban upserts a ban entry for subject, replacing any prior ban.
func (s *Store) Ban(subject, reason string, duration time.Duration, ip string, now time.Time) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	sh.bans[subject] = model.Ban{Subject: subject, Reason: reason, IssuedAt: now, Duration: duration, IP: ip}
	sh.mu.Unlock()
}

// Unmute removes the subject's mute entry. Idempotent: no error if absent.
func (s *Store) Unmute(subject string) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	delete(sh.mutes, subject)
	sh.mu.Unlock()
}

// Unban removes the subject's ban entry. Idempotent: no error if absent.
func (s *Store) Unban(subject string) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	delete(sh.bans, subject)
	sh.mu.Unlock()
}

// IsMuted reports whether subject has an active, non-expired mute at now.
// An expired entry is treated as absent even if no sweep has reclaimed it.
func (s *Store) IsMuted(subject string, now time.Time) bool {
	sh := s.shardFor(subject)
	sh.mu.RLock()
	m, ok := sh.mutes[subject]
	sh.mu.RUnlock()
	return ok && m.Active(now)
}

// IsBanned reports whether subject has an active, non-expired ban at now.
func (s *Store) IsBanned(subject string, now time.Time) bool {
	sh := s.shardFor(subject)
	sh.mu.RLock()
	b, ok := sh.bans[subject]
	sh.mu.RUnlock()
	return ok && b.Active(now)
}

// MuteEntry returns the stored mute for subject, if any, expired or not.
func (s *Store) MuteEntry(subject string) (model.Mute, bool) {
	sh := s.shardFor(subject)
	sh.mu.RLock()
	m, ok := sh.mutes[subject]
	sh.mu.RUnlock()
	return m, ok
}

// BanEntry returns the stored ban for subject, if any, expired or not.
func (s *Store) BanEntry(subject string) (model.Ban, bool) {
	sh := s.shardFor(subject)
	sh.mu.RLock()
	b, ok := sh.bans[subject]
	sh.mu.RUnlock()
	return b, ok
}

// SetSubonly flips the process-wide sub-only flag.
func (s *Store) SetSubonly(on bool) {
	s.subonly.Store(on)
}

// Subonly reports whether sub-only mode is active.
func (s *Store) Subonly() bool {
	return s.subonly.Load()
}

// Load installs rehydrated entries, replacing any state for the same
// subjects. Used at startup to restore active moderation from the
// repository.
func (s *Store) Load(mutes []model.Mute, bans []model.Ban) {
	for _, m := range mutes {
		sh := s.shardFor(m.Subject)
		sh.mu.Lock()
		sh.mutes[m.Subject] = m
		sh.mu.Unlock()
	}
	for _, b := range bans {
		sh := s.shardFor(b.Subject)
		sh.mu.Lock()
		sh.bans[b.Subject] = b
		sh.mu.Unlock()
	}
}

// Sweep removes expired entries and returns how many were reclaimed.
// Enforcement never depends on the sweep; it only frees memory.
func (s *Store) Sweep(now time.Time) int {
	reclaimed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for subject, m := range sh.mutes {
			if !m.Active(now) {
				delete(sh.mutes, subject)
				reclaimed++
			}
		}
		for subject, b := range sh.bans {
			if !b.Active(now) {
				delete(sh.bans, subject)
				reclaimed++
			}
		}
		sh.mu.Unlock()
	}
	return reclaimed
}

// StartSweep runs Sweep every interval until done is closed.
func (s *Store) StartSweep(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := s.Sweep(time.Now()); n > 0 {
					slog.Debug("moderation sweep", "reclaimed", n)
				}
			}
		}
	}()
}
