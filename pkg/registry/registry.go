// Package registry tracks connected client sessions and their outbound
// delivery queues.
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gnomegg/chatd/pkg/model"
)

const shardCount = 16

// DefaultQueueDepth is the outbound queue capacity per session.
const DefaultQueueDepth = 64

// Session is the per-connection handle. One per live connection; a username
// has at most one active session (reconnect replaces the prior one).
type Session struct {
	ID       uint32
	Username string
	Roles    model.RoleSet // role snapshot taken at connect time
	RemoteIP string

	mu       sync.Mutex
	out      chan []byte
	closed   bool
	lastSeen atomic.Int64 // unix nanos
}

// Events is the outbound queue drained by the connection's write loop. The
// channel is closed when the session is terminated; the write loop must
// treat that as a disconnect.
func (s *Session) Events() <-chan []byte {
	return s.out
}

// Touch records traffic from the session for idle detection.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the last activity timestamp.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// close closes the outbound channel exactly once, signalling the
// connection loop to disconnect.
func (s *Session) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
}

// send enqueues without blocking. Returns false when the queue is full or
// the session is terminated.
func (s *Session) send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

type regShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry is the session registry. It exclusively owns the username to
// session mapping. Sharded by username so session churn for different users
// proceeds without contention.
type Registry struct {
	shards     [shardCount]*regShard
	queueDepth int

	dropped  atomic.Int64 // events dropped on full or closed queues
	replaced atomic.Int64 // duplicate logins that displaced a session
}

// New creates a registry whose session queues hold queueDepth events.
// Values below 1 fall back to DefaultQueueDepth.
func New(queueDepth int) *Registry {
	if queueDepth < 1 {
		queueDepth = DefaultQueueDepth
	}
	r := &Registry{queueDepth: queueDepth}
	for i := range r.shards {
		r.shards[i] = &regShard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(username string) *regShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return r.shards[h.Sum32()%shardCount]
}

func newSessionID() uint32 {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return binary.BigEndian.Uint32(b)
}

// Register installs a session for username. A prior session for the same
// username is terminated (its outbound channel closed) before the new one
// becomes reachable via Lookup, so duplicate logins never leave ghosts.
func (r *Registry) Register(username string, roles model.RoleSet, remoteIP string) *Session {
	sess := &Session{
		ID:       newSessionID(),
		Username: username,
		Roles:    roles,
		RemoteIP: remoteIP,
		out:      make(chan []byte, r.queueDepth),
	}
	sess.Touch(time.Now())

	sh := r.shardFor(username)
	sh.mu.Lock()
	// The prior session must be terminated before the replacement is
	// visible to Lookup, so closing happens under the shard lock: any
	// Lookup that returns the new session ordered after this close.
	if prior := sh.sessions[username]; prior != nil {
		prior.close()
		r.replaced.Add(1)
	}
	sh.sessions[username] = sess
	sh.mu.Unlock()
	return sess
}

// Unregister removes the mapping and terminates the session. No-op when the
// session has already been replaced or removed; disconnect races are
// expected.
func (r *Registry) Unregister(sess *Session) {
	sh := r.shardFor(sess.Username)
	sh.mu.Lock()
	if current, ok := sh.sessions[sess.Username]; ok && current == sess {
		delete(sh.sessions, sess.Username)
	}
	sh.mu.Unlock()
	sess.close()
}

// Lookup returns the active session for username, if any.
func (r *Registry) Lookup(username string) (*Session, bool) {
	sh := r.shardFor(username)
	sh.mu.RLock()
	sess, ok := sh.sessions[username]
	sh.mu.RUnlock()
	return sess, ok
}

// All returns a point-in-time copy of every active session. Fan-out
// iterates the copy, so concurrent connects and disconnects never corrupt
// the walk.
func (r *Registry) All() []*Session {
	var out []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			out = append(out, sess)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Deliver enqueues serialized event bytes for the session without ever
// blocking the caller. When the queue is full (slow or stalled client) the
// event is dropped for that session only and the drop counter increments;
// one slow client must not stall a broadcast.
func (r *Registry) Deliver(sess *Session, data []byte) bool {
	if sess.send(data) {
		return true
	}
	r.dropped.Add(1)
	return false
}

// Dropped returns the number of events dropped on full or closed queues.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// Replaced returns the number of sessions displaced by duplicate logins.
func (r *Registry) Replaced() int64 {
	return r.replaced.Load()
}

// ReapIdle unregisters sessions with no traffic since the timeout and
// returns them. Part of the ping monitor: a client that stops sending
// anything, pings included, is treated as disconnected.
func (r *Registry) ReapIdle(timeout time.Duration, now time.Time) []*Session {
	var stale []*Session
	for _, sess := range r.All() {
		if now.Sub(sess.LastSeen()) > timeout {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		r.Unregister(sess)
	}
	return stale
}
