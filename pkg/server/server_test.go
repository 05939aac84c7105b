package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gnomegg/chatd/pkg/crypto"
	"github.com/gnomegg/chatd/pkg/model"
	"github.com/gnomegg/chatd/pkg/protocol"
	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
	"github.com/gnomegg/chatd/pkg/store"
)

func startServer(t *testing.T) (*Server, *store.Memory, string) {
	t.Helper()
	s, mem := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s, mem, s.Addr().String()
}

func dial(t *testing.T, addr, username string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := protocol.WriteHandshake(conn, &protocol.Handshake{Username: username}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn
}

func waitOnline(t *testing.T, s *Server, username string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.registry.Lookup(username); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never came online", username)
}

func readEvent(t *testing.T, conn net.Conn) *pb.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ev, err := protocol.ReadEvent(conn)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestServerBroadcastEndToEnd(t *testing.T) {
	s, _, addr := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	waitOnline(t, s, "alice")
	waitOnline(t, s, "bob")

	if err := protocol.WriteCommand(alice, &pb.Command{
		Message: &pb.Message{Contents: "hello chat"},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	for _, conn := range []net.Conn{alice, bob} {
		ev := readEvent(t, conn)
		if ev.Broadcast == nil || ev.Broadcast.Sender != "alice" || ev.Broadcast.Contents != "hello chat" {
			t.Fatalf("got %+v", ev)
		}
	}
}

func TestServerPongEcho(t *testing.T) {
	s, _, addr := startServer(t)
	alice := dial(t, addr, "alice")
	waitOnline(t, s, "alice")

	if err := protocol.WriteCommand(alice, &pb.Command{
		Ping: &pb.Ping{InitiationTimestamp: 123456789},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	ev := readEvent(t, alice)
	if ev.Pong == nil || ev.Pong.Timestamp != 123456789 {
		t.Fatalf("got %+v, want echoed timestamp", ev)
	}
}

func TestServerBannedAtHandshake(t *testing.T) {
	s, _, addr := startServer(t)
	s.mods.Ban("alice", "spam", 0, "", time.Now())

	alice := dial(t, addr, "alice")
	ev := readEvent(t, alice)
	if ev.Error == nil || ev.Error.Reason != ReasonBanned {
		t.Fatalf("got %+v, want ban notice", ev)
	}

	// The server closes the connection after the notice.
	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadEvent(alice); err == nil {
		t.Fatal("expected closed connection")
	}
	if _, online := s.registry.Lookup("alice"); online {
		t.Error("banned user must not be registered")
	}
}

func TestServerBanForcesDisconnect(t *testing.T) {
	s, mem, addr := startServer(t)
	ctx := context.Background()
	if _, err := mem.EnsureUser(ctx, "mod"); err != nil {
		t.Fatal(err)
	}
	if err := mem.SetRoles(ctx, "mod", model.RoleSet(0).With(model.RoleModerator)); err != nil {
		t.Fatal(err)
	}

	mod := dial(t, addr, "mod")
	bob := dial(t, addr, "bob")
	waitOnline(t, s, "mod")
	waitOnline(t, s, "bob")

	if err := protocol.WriteCommand(mod, &pb.Command{
		Ban: &pb.Ban{User: "bob", Reason: "spam", Duration: 0},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	ev := readEvent(t, bob)
	if ev.Error == nil || ev.Error.Reason != ReasonBanned {
		t.Fatalf("got %+v, want ban notice", ev)
	}
	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadEvent(bob); err == nil {
		t.Fatal("expected forced disconnect after ban notice")
	}
}

func TestServerPrivMessageEndToEnd(t *testing.T) {
	s, _, addr := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	waitOnline(t, s, "alice")
	waitOnline(t, s, "bob")

	// Bob's keys never reach the server; alice seals, bob opens.
	bobPub, bobPriv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := crypto.Seal([]byte("meet at nine"), bobPub)
	if err != nil {
		t.Fatal(err)
	}

	if err := protocol.WriteCommand(alice, &pb.Command{
		PrivMessage: &pb.PrivMessage{To: "bob", Ciphertext: sealed},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	ev := readEvent(t, bob)
	if ev.Broadcast == nil || ev.Broadcast.Sender != "alice" {
		t.Fatalf("got %+v", ev)
	}
	opened, err := crypto.Open(ev.Broadcast.Ciphertext, bobPub, bobPriv)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != "meet at nine" {
		t.Errorf("got %q", opened)
	}
}

func TestServerOversizedPrivMessageKeepsRecipientOnline(t *testing.T) {
	s, _, addr := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	waitOnline(t, s, "alice")
	waitOnline(t, s, "bob")

	// The command frame itself fits on the wire; only the relayed event
	// would not. The sender must get the error and bob must stay up.
	if err := protocol.WriteCommand(alice, &pb.Command{
		PrivMessage: &pb.PrivMessage{To: "bob", Ciphertext: make([]byte, model.MaxCiphertextLength+1)},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	ev := readEvent(t, alice)
	if ev.Error == nil || ev.Error.Reason != ReasonMalformedCommand {
		t.Fatalf("sender got %+v, want malformed rejection", ev)
	}

	if _, online := s.registry.Lookup("bob"); !online {
		t.Fatal("recipient was knocked offline by an oversized payload")
	}
	// Bob's connection still delivers.
	if err := protocol.WriteCommand(alice, &pb.Command{
		PrivMessage: &pb.PrivMessage{To: "bob", Ciphertext: []byte("ok")},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	got := readEvent(t, bob)
	if got.Broadcast == nil || string(got.Broadcast.Ciphertext) != "ok" {
		t.Fatalf("bob got %+v", got)
	}
}

func TestServerDuplicateLoginReplacesFirst(t *testing.T) {
	s, _, addr := startServer(t)
	first := dial(t, addr, "alice")
	waitOnline(t, s, "alice")
	firstID, _ := s.registry.Lookup("alice")

	second := dial(t, addr, "alice")
	// The first connection is torn down before the second is reachable.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadEvent(first); err == nil {
		t.Fatal("expected first connection to be closed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := s.registry.Lookup("alice"); ok && sess.ID != firstID.ID {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, ok := s.registry.Lookup("alice")
	if !ok || sess.ID == firstID.ID {
		t.Fatalf("second session not installed: %+v, %v", sess, ok)
	}

	// The surviving connection still works.
	if err := protocol.WriteCommand(second, &pb.Command{
		Ping: &pb.Ping{InitiationTimestamp: 9},
	}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	ev := readEvent(t, second)
	if ev.Pong == nil || ev.Pong.Timestamp != 9 {
		t.Fatalf("got %+v", ev)
	}
}

func TestServerRejectsInvalidUsername(t *testing.T) {
	_, _, addr := startServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := protocol.WriteHandshake(conn, &protocol.Handshake{Username: "no spaces allowed"}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Error == nil || ev.Error.Reason != ReasonMalformedCommand {
		t.Fatalf("got %+v", ev)
	}
}
