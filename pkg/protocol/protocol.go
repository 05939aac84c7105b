// Package protocol implements the framing for commands and events.
//
// Every frame is length-prefixed and carries a one-byte variant tag before
// the JSON payload:
//
//	command frame: [length(4, big-endian)][tag(1)][JSON payload]
//	event frame:   [length(4, big-endian)][tag(1)][scope(1)][JSON payload]
//
// The length covers everything after the prefix. Tags are the stable
// numeric discriminators defined in pkg/protocol/pb.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
)

const (
	// MaxFrame is the maximum frame size (64KB).
	MaxFrame = 65536
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrUnknownTag    = errors.New("protocol: unknown variant tag")
	ErrMalformed     = errors.New("protocol: malformed payload")
)

func writeFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrame {
		return ErrFrameTooLarge
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body))) //nolint:gosec // bounds-checked above
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrame {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("protocol: read body: %w", err)
	}
	return body, nil
}

// EncodeCommand serializes a command into a frame body.
func EncodeCommand(cmd *pb.Command) ([]byte, error) {
	tag, ok := cmd.Tag()
	if !ok {
		return nil, ErrMalformed
	}
	var payload any
	switch tag {
	case pb.TagMessage:
		payload = cmd.Message
	case pb.TagPrivMessage:
		payload = cmd.PrivMessage
	case pb.TagMute:
		payload = cmd.Mute
	case pb.TagUnmute:
		payload = cmd.Unmute
	case pb.TagBan:
		payload = cmd.Ban
	case pb.TagUnban:
		payload = cmd.Unban
	case pb.TagSubonly:
		payload = cmd.Subonly
	case pb.TagPing:
		payload = cmd.Ping
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal command: %w", err)
	}
	body := make([]byte, 1+len(data))
	body[0] = byte(tag)
	copy(body[1:], data)
	return body, nil
}

// DecodeCommand parses the body of a command frame.
func DecodeCommand(body []byte) (*pb.Command, error) {
	if len(body) < 1 {
		return nil, ErrMalformed
	}
	tag := pb.CommandTag(body[0])
	data := body[1:]
	cmd := &pb.Command{}
	var payload any
	switch tag {
	case pb.TagMessage:
		cmd.Message = &pb.Message{}
		payload = cmd.Message
	case pb.TagPrivMessage:
		cmd.PrivMessage = &pb.PrivMessage{}
		payload = cmd.PrivMessage
	case pb.TagMute:
		cmd.Mute = &pb.Mute{}
		payload = cmd.Mute
	case pb.TagUnmute:
		cmd.Unmute = &pb.Unmute{}
		payload = cmd.Unmute
	case pb.TagBan:
		cmd.Ban = &pb.Ban{}
		payload = cmd.Ban
	case pb.TagUnban:
		cmd.Unban = &pb.Unban{}
		payload = cmd.Unban
	case pb.TagSubonly:
		cmd.Subonly = &pb.Subonly{}
		payload = cmd.Subonly
	case pb.TagPing:
		cmd.Ping = &pb.Ping{}
		payload = cmd.Ping
	default:
		return nil, ErrUnknownTag
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal command: %w", err)
	}
	return cmd, nil
}

// WriteCommand writes a command frame.
func WriteCommand(w io.Writer, cmd *pb.Command) error {
	body, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

// ReadCommand reads a command frame.
func ReadCommand(r io.Reader) (*pb.Command, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeCommand(body)
}

// EncodeEvent serializes an event into a frame body. ScopeServer events are
// never written to clients; encoding them anyway is allowed for tests.
func EncodeEvent(ev *pb.Event) ([]byte, error) {
	tag, ok := ev.Tag()
	if !ok {
		return nil, ErrMalformed
	}
	var payload any
	switch tag {
	case pb.TagIssueCommand:
		payload = ev.IssueCommand
	case pb.TagPong:
		payload = ev.Pong
	case pb.TagBroadcast:
		payload = ev.Broadcast
	case pb.TagError:
		payload = ev.Error
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal event: %w", err)
	}
	body := make([]byte, 2+len(data))
	body[0] = byte(tag)
	body[1] = byte(ev.Scope)
	copy(body[2:], data)
	return body, nil
}

// DecodeEvent parses the body of an event frame.
func DecodeEvent(body []byte) (*pb.Event, error) {
	if len(body) < 2 {
		return nil, ErrMalformed
	}
	tag := pb.EventTag(body[0])
	ev := &pb.Event{Scope: pb.Scope(body[1])}
	data := body[2:]
	var payload any
	switch tag {
	case pb.TagIssueCommand:
		ev.IssueCommand = &pb.IssueCommand{}
		payload = ev.IssueCommand
	case pb.TagPong:
		ev.Pong = &pb.Pong{}
		payload = ev.Pong
	case pb.TagBroadcast:
		ev.Broadcast = &pb.Broadcast{}
		payload = ev.Broadcast
	case pb.TagError:
		ev.Error = &pb.Error{}
		payload = ev.Error
	default:
		return nil, ErrUnknownTag
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal event: %w", err)
	}
	return ev, nil
}

// WriteEvent writes an event frame.
func WriteEvent(w io.Writer, ev *pb.Event) error {
	body, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

// ReadEvent reads an event frame.
func ReadEvent(r io.Reader) (*pb.Event, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeEvent(body)
}

// WriteRaw writes an already-encoded frame body. The router serializes an
// event once and fans the same bytes out to every target session.
func WriteRaw(w io.Writer, body []byte) error {
	return writeFrame(w, body)
}

// Handshake is the first frame a client sends on a fresh connection, before
// command framing begins. It belongs to the transport shell, not to the
// Command/Event schema.
type Handshake struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// WriteHandshake writes a handshake frame.
func WriteHandshake(w io.Writer, h *Handshake) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("protocol: marshal handshake: %w", err)
	}
	return writeFrame(w, data)
}

// ReadHandshake reads a handshake frame.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	h := &Handshake{}
	if err := json.Unmarshal(body, h); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal handshake: %w", err)
	}
	return h, nil
}
