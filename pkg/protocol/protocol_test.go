package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
)

func TestCommandRoundTrip(t *testing.T) {
	type tcase struct {
		cmd *pb.Command
		tag pb.CommandTag
	}

	tcases := map[string]tcase{
		"message":      {cmd: &pb.Command{Message: &pb.Message{Contents: "hello chat"}}, tag: pb.TagMessage},
		"priv_message": {cmd: &pb.Command{PrivMessage: &pb.PrivMessage{To: "essaywriter", Ciphertext: []byte{0xde, 0xad}}}, tag: pb.TagPrivMessage},
		"mute":         {cmd: &pb.Command{Mute: &pb.Mute{User: "essaywriter", Duration: 666}}, tag: pb.TagMute},
		"unmute":       {cmd: &pb.Command{Unmute: &pb.Unmute{User: "essaywriter"}}, tag: pb.TagUnmute},
		"ban":          {cmd: &pb.Command{Ban: &pb.Ban{User: "harkdan", Reason: "spam", Duration: 1024}}, tag: pb.TagBan},
		"unban":        {cmd: &pb.Command{Unban: &pb.Unban{User: "harkdan"}}, tag: pb.TagUnban},
		"subonly":      {cmd: &pb.Command{Subonly: &pb.Subonly{On: true}}, tag: pb.TagSubonly},
		"ping":         {cmd: &pb.Command{Ping: &pb.Ping{InitiationTimestamp: 123456789}}, tag: pb.TagPing},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteCommand(&buf, tc.cmd); err != nil {
				t.Fatalf("WriteCommand: %v", err)
			}

			// The tag byte sits right after the 4-byte length prefix.
			raw := buf.Bytes()
			if got := pb.CommandTag(raw[4]); got != tc.tag {
				t.Fatalf("frame tag = %d, want %d", got, tc.tag)
			}

			got, err := ReadCommand(&buf)
			if err != nil {
				t.Fatalf("ReadCommand: %v", err)
			}
			gotTag, ok := got.Tag()
			if !ok || gotTag != tc.tag {
				t.Fatalf("decoded tag = %d ok=%t, want %d", gotTag, ok, tc.tag)
			}
		})
	}
}

func TestPingEchoField(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCommand(&buf, &pb.Command{Ping: &pb.Ping{InitiationTimestamp: 987654321}}); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	got, err := ReadCommand(&buf)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if got.Ping == nil || got.Ping.InitiationTimestamp != 987654321 {
		t.Fatalf("ping timestamp not preserved: %+v", got.Ping)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := &pb.Event{
		Scope: pb.ScopeUser,
		User:  "essaywriter",
		Broadcast: &pb.Broadcast{
			ID:         "m-1",
			Sender:     "harkdan",
			Ciphertext: []byte{1, 2, 3},
			Timestamp:  42,
		},
	}

	var buf bytes.Buffer
	if err := WriteEvent(&buf, ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	got, err := ReadEvent(&buf)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got.Scope != pb.ScopeUser {
		t.Fatalf("scope = %d, want %d", got.Scope, pb.ScopeUser)
	}
	if got.Broadcast == nil || !bytes.Equal(got.Broadcast.Ciphertext, []byte{1, 2, 3}) {
		t.Fatalf("ciphertext not relayed verbatim: %+v", got.Broadcast)
	}
	// Routing target is in-memory state, never on the wire.
	if got.User != "" {
		t.Fatalf("event frame must not carry the routing target, got %q", got.User)
	}
}

func TestMalformedCommand(t *testing.T) {
	// Zero payloads set.
	if _, err := EncodeCommand(&pb.Command{}); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed for empty command, got %v", err)
	}
	// Two payloads set.
	cmd := &pb.Command{
		Message: &pb.Message{Contents: "x"},
		Ping:    &pb.Ping{InitiationTimestamp: 1},
	}
	if _, err := EncodeCommand(cmd); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed for double payload, got %v", err)
	}
}

func TestUnknownTag(t *testing.T) {
	if _, err := DecodeCommand([]byte{0xff, '{', '}'}); err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if _, err := DecodeEvent([]byte{0xff, 0, '{', '}'}); err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, MaxFrame+1)
	buf.Write(lenBuf)

	if _, err := ReadCommand(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf, &Handshake{Username: "essaywriter"}); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	h, err := ReadHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if h.Username != "essaywriter" {
		t.Fatalf("username = %q", h.Username)
	}
}
