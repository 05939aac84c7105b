package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gnomegg/chatd/pkg/model"
	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
	"github.com/gnomegg/chatd/pkg/rbac"
	"github.com/gnomegg/chatd/pkg/registry"
)

// Rejection reasons carried in error events. The strings are part of the
// wire contract with clients; do not rename them.
const (
	ReasonMuted                  = "Muted"
	ReasonBanned                 = "Banned"
	ReasonInsufficientPermission = "InsufficientPermission"
	ReasonSubscribersOnly        = "SubscribersOnly"
	ReasonUnknownTarget          = "UnknownTarget"
	ReasonMalformedCommand       = "MalformedCommand"
)

// Outcome reports side effects the transport must apply after the returned
// events have been routed.
type Outcome struct {
	// Disconnect closes the issuing connection (banned issuer).
	Disconnect bool
	// Kick lists usernames whose sessions must be terminated (freshly
	// banned users who are online).
	Kick []string
}

// HandleCommand validates a command, routes the resulting events and applies
// session side effects. It reports whether the issuing connection must be
// closed.
func (s *Server) HandleCommand(ctx context.Context, sess *registry.Session, cmd *pb.Command) bool {
	events, outcome := s.Process(ctx, sess, cmd)
	for _, ev := range events {
		s.Route(ctx, ev)
	}
	for _, name := range outcome.Kick {
		if target, ok := s.registry.Lookup(name); ok {
			s.registry.Unregister(target)
		}
	}
	return outcome.Disconnect
}

// Process validates a command from sess and translates it into events.
// Checks run in a fixed order: mute (chat commands only), ban (everything),
// moderation permission, sub-only mode, then payload shape. Accepted
// moderation commands mutate the in-memory store here; persistence happens
// when the router hands the server-scoped event to internal collaborators.
func (s *Server) Process(ctx context.Context, sess *registry.Session, cmd *pb.Command) ([]*pb.Event, Outcome) {
	issuer := sess.Username
	cmd.Issuer = issuer
	now := time.Now()

	tag, ok := cmd.Tag()
	if !ok {
		return s.reject(issuer, ReasonMalformedCommand, "expected exactly one payload"), Outcome{}
	}

	chat := tag == pb.TagMessage || tag == pb.TagPrivMessage

	if chat && s.mods.IsMuted(issuer, now) {
		return s.reject(issuer, ReasonMuted, ""), Outcome{}
	}
	if s.mods.IsBanned(issuer, now) {
		return s.reject(issuer, ReasonBanned, ""), Outcome{Disconnect: true}
	}

	switch tag {
	case pb.TagMute, pb.TagUnmute, pb.TagBan, pb.TagUnban, pb.TagSubonly:
		if msg := rbac.RequirePermission(sess.Roles, rbac.PermModerate); msg != "" {
			return s.reject(issuer, ReasonInsufficientPermission, msg), Outcome{}
		}
	}

	if chat && s.mods.Subonly() && !rbac.HasPermission(sess.Roles, rbac.PermChatInSubOnly) {
		return s.reject(issuer, ReasonSubscribersOnly, ""), Outcome{}
	}

	switch tag {
	case pb.TagMessage:
		return s.acceptMessage(sess, cmd.Message, now), Outcome{}
	case pb.TagPrivMessage:
		return s.acceptPrivMessage(ctx, sess, cmd.PrivMessage, now), Outcome{}
	case pb.TagMute:
		return s.acceptMute(cmd, now), Outcome{}
	case pb.TagUnmute:
		return s.acceptUnmute(cmd), Outcome{}
	case pb.TagBan:
		return s.acceptBan(cmd, now)
	case pb.TagUnban:
		return s.acceptUnban(cmd), Outcome{}
	case pb.TagSubonly:
		s.mods.SetSubonly(cmd.Subonly.On)
		s.metrics.SubonlyToggles.Add(1)
		return []*pb.Event{serverEvent(cmd)}, Outcome{}
	case pb.TagPing:
		s.metrics.PongsSent.Add(1)
		return []*pb.Event{{
			Scope: pb.ScopeUser,
			User:  issuer,
			Pong:  &pb.Pong{Timestamp: cmd.Ping.InitiationTimestamp},
		}}, Outcome{}
	}
	return s.reject(issuer, ReasonMalformedCommand, "unknown command"), Outcome{}
}

func (s *Server) acceptMessage(sess *registry.Session, msg *pb.Message, now time.Time) []*pb.Event {
	if err := model.ValidateMessage(msg.Contents); err != nil {
		return s.reject(sess.Username, ReasonMalformedCommand, err.Error())
	}
	s.metrics.MessagesRelayed.Add(1)
	return []*pb.Event{{
		Scope: pb.ScopeAll,
		Broadcast: &pb.Broadcast{
			ID:        uuid.NewString(),
			Sender:    sess.Username,
			Contents:  msg.Contents,
			Timestamp: now.UnixMilli(),
		},
	}}
}

func (s *Server) acceptPrivMessage(ctx context.Context, sess *registry.Session, pm *pb.PrivMessage, now time.Time) []*pb.Event {
	if model.ValidateUsername(pm.To) != nil || len(pm.Ciphertext) == 0 {
		return s.reject(sess.Username, ReasonMalformedCommand, "private message needs a recipient and a payload")
	}
	// The recipient's event carries an id/sender/timestamp envelope on top
	// of the ciphertext; an unbounded payload could push that frame past
	// the protocol limit and break the recipient's connection instead of
	// the sender's command.
	if len(pm.Ciphertext) > model.MaxCiphertextLength {
		return s.reject(sess.Username, ReasonMalformedCommand, model.ErrCiphertextTooLong.Error())
	}
	exists, err := s.directory.Exists(ctx, pm.To)
	if err != nil {
		// Directory trouble must not eat messages; fall through to the
		// relay, which drops silently if the target is offline anyway.
		slog.Warn("directory lookup failed", "target", pm.To, "err", err)
	} else if !exists {
		return s.reject(sess.Username, ReasonUnknownTarget, "")
	}
	s.metrics.PrivMessagesRelayed.Add(1)
	return []*pb.Event{{
		Scope: pb.ScopeUser,
		User:  pm.To,
		Broadcast: &pb.Broadcast{
			ID:         uuid.NewString(),
			Sender:     sess.Username,
			Ciphertext: pm.Ciphertext,
			Timestamp:  now.UnixMilli(),
		},
	}}
}

func (s *Server) acceptMute(cmd *pb.Command, now time.Time) []*pb.Event {
	m := cmd.Mute
	if model.ValidateUsername(m.User) != nil || m.Duration < 0 {
		return s.reject(cmd.Issuer, ReasonMalformedCommand, "mute needs a valid user and a non-negative duration")
	}
	s.mods.Mute(m.User, time.Duration(m.Duration), now)
	s.metrics.MutesIssued.Add(1)
	return []*pb.Event{serverEvent(cmd)}
}

func (s *Server) acceptUnmute(cmd *pb.Command) []*pb.Event {
	if model.ValidateUsername(cmd.Unmute.User) != nil {
		return s.reject(cmd.Issuer, ReasonMalformedCommand, "unmute needs a valid user")
	}
	s.mods.Unmute(cmd.Unmute.User)
	s.metrics.UnmutesIssued.Add(1)
	return []*pb.Event{serverEvent(cmd)}
}

func (s *Server) acceptBan(cmd *pb.Command, now time.Time) ([]*pb.Event, Outcome) {
	b := cmd.Ban
	if model.ValidateUsername(b.User) != nil || b.Duration < 0 {
		return s.reject(cmd.Issuer, ReasonMalformedCommand, "ban needs a valid user and a non-negative duration"), Outcome{}
	}

	// Record the target's current address when they are online, so the ban
	// can be matched against reconnect attempts from the same host.
	var ip string
	if target, ok := s.registry.Lookup(b.User); ok {
		ip = target.RemoteIP
	}
	s.mods.Ban(b.User, b.Reason, time.Duration(b.Duration), ip, now)
	s.metrics.BansIssued.Add(1)

	events := []*pb.Event{serverEvent(cmd)}
	outcome := Outcome{}
	if _, online := s.registry.Lookup(b.User); online {
		// The target learns of the ban before the connection drops.
		events = append(events, &pb.Event{
			Scope: pb.ScopeUser,
			User:  b.User,
			Error: &pb.Error{Reason: ReasonBanned, Message: b.Reason},
		})
		outcome.Kick = []string{b.User}
	}
	return events, outcome
}

func (s *Server) acceptUnban(cmd *pb.Command) []*pb.Event {
	if model.ValidateUsername(cmd.Unban.User) != nil {
		return s.reject(cmd.Issuer, ReasonMalformedCommand, "unban needs a valid user")
	}
	s.mods.Unban(cmd.Unban.User)
	s.metrics.UnbansIssued.Add(1)
	return []*pb.Event{serverEvent(cmd)}
}

// reject builds the single user-scoped error event for a refused command.
// Errors are never broadcast.
func (s *Server) reject(issuer, reason, message string) []*pb.Event {
	s.metrics.CommandsRejected.Add(1)
	return []*pb.Event{{
		Scope: pb.ScopeUser,
		User:  issuer,
		Error: &pb.Error{Reason: reason, Message: message},
	}}
}

// serverEvent wraps an accepted moderation command for internal collaborators.
func serverEvent(cmd *pb.Command) *pb.Event {
	return &pb.Event{
		Scope:        pb.ScopeServer,
		IssueCommand: &pb.IssueCommand{Command: cmd},
	}
}
