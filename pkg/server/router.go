package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gnomegg/chatd/pkg/protocol"
	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
)

// Route delivers an event according to its scope. Client-bound events are
// serialized once and the same bytes fan out to every target; a full or dead
// session queue loses that copy without blocking anyone else.
func (s *Server) Route(ctx context.Context, ev *pb.Event) {
	if ev.Scope == pb.ScopeServer {
		s.handleServerEvent(ctx, ev)
		return
	}

	body, err := protocol.EncodeEvent(ev)
	if err != nil {
		slog.Error("event encode failed", "err", err)
		return
	}

	switch ev.Scope {
	case pb.ScopeAll:
		for _, sess := range s.registry.All() {
			if !s.registry.Deliver(sess, body) {
				s.metrics.EventsDropped.Add(1)
			}
		}
	case pb.ScopeUser:
		sess, ok := s.registry.Lookup(ev.User)
		if !ok {
			// Target disconnected between validation and delivery; not
			// an error.
			slog.Debug("event target offline", "user", ev.User)
			return
		}
		if !s.registry.Deliver(sess, body) {
			s.metrics.EventsDropped.Add(1)
		}
	}
}

// handleServerEvent hands an accepted moderation command to the internal
// collaborators: the moderation log and the durable repository. Repository
// failures are logged and do not fail the command; in-memory state already
// changed and clients were already answered.
func (s *Server) handleServerEvent(ctx context.Context, ev *pb.Event) {
	if ev.IssueCommand == nil || ev.IssueCommand.Command == nil {
		return
	}
	cmd := ev.IssueCommand.Command

	switch {
	case cmd.Mute != nil:
		slog.Info("mute issued", "by", cmd.Issuer, "user", cmd.Mute.User,
			"duration", time.Duration(cmd.Mute.Duration))
		if entry, ok := s.mods.MuteEntry(cmd.Mute.User); ok {
			if err := s.repo.SaveMute(ctx, entry); err != nil {
				slog.Error("persist mute failed", "user", entry.Subject, "err", err)
			}
		}
	case cmd.Unmute != nil:
		slog.Info("unmute issued", "by", cmd.Issuer, "user", cmd.Unmute.User)
		if err := s.repo.DeleteMute(ctx, cmd.Unmute.User); err != nil {
			slog.Error("persist unmute failed", "user", cmd.Unmute.User, "err", err)
		}
	case cmd.Ban != nil:
		slog.Info("ban issued", "by", cmd.Issuer, "user", cmd.Ban.User,
			"duration", time.Duration(cmd.Ban.Duration), "reason", cmd.Ban.Reason)
		if entry, ok := s.mods.BanEntry(cmd.Ban.User); ok {
			if err := s.repo.SaveBan(ctx, entry); err != nil {
				slog.Error("persist ban failed", "user", entry.Subject, "err", err)
			}
		}
	case cmd.Unban != nil:
		slog.Info("unban issued", "by", cmd.Issuer, "user", cmd.Unban.User)
		if err := s.repo.DeleteBan(ctx, cmd.Unban.User); err != nil {
			slog.Error("persist unban failed", "user", cmd.Unban.User, "err", err)
		}
	case cmd.Subonly != nil:
		slog.Info("subonly toggled", "by", cmd.Issuer, "on", cmd.Subonly.On)
	}
}

// rehydrate loads active moderation entries from the repository so bans and
// mutes survive a restart.
func (s *Server) rehydrate(ctx context.Context) error {
	now := time.Now()
	mutes, err := s.repo.ActiveMutes(ctx, now)
	if err != nil {
		return err
	}
	bans, err := s.repo.ActiveBans(ctx, now)
	if err != nil {
		return err
	}
	s.mods.Load(mutes, bans)
	if len(mutes) > 0 || len(bans) > 0 {
		slog.Info("moderation state rehydrated", "mutes", len(mutes), "bans", len(bans))
	}
	return nil
}
