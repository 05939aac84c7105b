package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnomegg/chatd/pkg/model"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := New(8)

	sess := r.Register("essaywriter", model.RoleSubscriber, "203.0.113.9")
	got, ok := r.Lookup("essaywriter")
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, model.RoleSubscriber, got.Roles)
	assert.Equal(t, 1, r.Count())

	r.Unregister(sess)
	_, ok = r.Lookup("essaywriter")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())

	// Disconnect races are expected: double unregister is a no-op.
	r.Unregister(sess)
}

func TestDuplicateLoginReplacesPriorSession(t *testing.T) {
	r := New(8)

	first := r.Register("essaywriter", 0, "")
	second := r.Register("essaywriter", 0, "")

	// The first session's channel must be closed before the second is
	// reachable via Lookup.
	select {
	case _, open := <-first.Events():
		assert.False(t, open, "first session channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("first session channel was not closed")
	}

	got, ok := r.Lookup("essaywriter")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, int64(1), r.Replaced())

	// Unregistering the displaced session must not remove the new one.
	r.Unregister(first)
	_, ok = r.Lookup("essaywriter")
	assert.True(t, ok)
}

func TestReplacementNotVisibleBeforePriorCloses(t *testing.T) {
	r := New(8)

	// A concurrent Lookup that observes the replacement must find the
	// prior session's channel already closed; there is no window where
	// both are live.
	for i := 0; i < 200; i++ {
		first := r.Register("essaywriter", 0, "")

		done := make(chan *Session)
		go func() {
			done <- r.Register("essaywriter", 0, "")
		}()

		for {
			got, ok := r.Lookup("essaywriter")
			require.True(t, ok)
			if got == first {
				continue
			}
			// The replacement is visible; a closed channel never
			// blocks, so an open one fails the select immediately.
			select {
			case _, open := <-first.Events():
				require.False(t, open, "prior channel open while replacement was reachable")
			default:
				t.Fatal("prior channel open while replacement was reachable")
			}
			break
		}

		second := <-done
		r.Unregister(second)
	}
}

func TestDeliverFIFOPerSession(t *testing.T) {
	r := New(8)
	sess := r.Register("essaywriter", 0, "")

	for _, payload := range []string{"a", "b", "c"} {
		require.True(t, r.Deliver(sess, []byte(payload)))
	}

	for _, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, string(<-sess.Events()))
	}
}

func TestDeliverDropsWhenQueueFull(t *testing.T) {
	r := New(2)
	slow := r.Register("slowpoke", 0, "")
	fast := r.Register("essaywriter", 0, "")

	// Fill the slow session's queue; it is never drained.
	require.True(t, r.Deliver(slow, []byte("1")))
	require.True(t, r.Deliver(slow, []byte("2")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Must not block even though slow's queue is full.
		assert.False(t, r.Deliver(slow, []byte("3")))
		assert.True(t, r.Deliver(fast, []byte("3")))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a stalled session")
	}
	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, "3", string(<-fast.Events()))
}

func TestDeliverToTerminatedSession(t *testing.T) {
	r := New(8)
	sess := r.Register("essaywriter", 0, "")
	r.Unregister(sess)

	// In-flight delivery to a dead peer fails fast, never blocks or panics.
	assert.False(t, r.Deliver(sess, []byte("late")))
	assert.Equal(t, int64(1), r.Dropped())
}

func TestAllIsSnapshot(t *testing.T) {
	r := New(8)
	r.Register("a1", 0, "")
	r.Register("b2", 0, "")
	sessions := r.All()
	require.Len(t, sessions, 2)

	// Mutating the registry must not disturb an already-taken snapshot.
	r.Register("c3", 0, "")
	assert.Len(t, sessions, 2)
}

func TestReapIdle(t *testing.T) {
	r := New(8)
	idle := r.Register("afkchatter", 0, "")
	active := r.Register("essaywriter", 0, "")

	now := time.Now()
	idle.Touch(now.Add(-time.Hour))
	active.Touch(now)

	stale := r.ReapIdle(10*time.Minute, now)
	require.Len(t, stale, 1)
	assert.Equal(t, "afkchatter", stale[0].Username)

	_, ok := r.Lookup("afkchatter")
	assert.False(t, ok)
	_, ok = r.Lookup("essaywriter")
	assert.True(t, ok)
}
