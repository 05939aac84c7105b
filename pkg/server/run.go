package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gnomegg/chatd/pkg/model"
	"github.com/gnomegg/chatd/pkg/protocol"
	pb "github.com/gnomegg/chatd/pkg/protocol/pb"
	"github.com/gnomegg/chatd/pkg/version"
)

const handshakeTimeout = 10 * time.Second

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.repo == nil || s.directory == nil {
		return fmt.Errorf("server: missing store dependencies")
	}
	defer func() {
		_ = s.repo.Close()
		_ = s.directory.Close()
	}()

	// Bans and mutes issued before the last shutdown still apply.
	if err := s.rehydrate(s.ctx); err != nil {
		return fmt.Errorf("server: rehydrate moderation state: %w", err)
	}

	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("chat relay running",
		"addr", s.cfg.ListenAddr,
		"version", version.String(),
		"subonly", s.mods.Subonly(),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Expired moderation entries and idle sessions are collected in the
	// background.
	s.mods.StartSweep(time.Duration(s.cfg.SweepInterval), s.ctx.Done())
	s.startIdleMonitor()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Start binds the chat listener and begins accepting connections. Run calls
// it; tests call it directly to avoid the signal wait.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown gracefully stops the server. Closing the registry's sessions is
// left to their connection loops, which exit when their conns break.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, sess := range s.registry.All() {
		s.registry.Unregister(sess)
	}
}

// handleConn owns a single client connection from handshake to disconnect.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	slog.Debug("new connection", "remote", remoteAddr)

	// First frame must be the handshake
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hs, err := protocol.ReadHandshake(conn)
	if err != nil {
		s.metrics.FailedHandshakes.Add(1)
		slog.Debug("handshake read failed", "remote", remoteAddr, "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{}) // clear deadline

	if err := model.ValidateUsername(hs.Username); err != nil {
		s.metrics.FailedHandshakes.Add(1)
		sendError(conn, ReasonMalformedCommand, err.Error())
		return
	}

	user, err := s.directory.EnsureUser(s.ctx, hs.Username)
	if err != nil {
		s.metrics.FailedHandshakes.Add(1)
		slog.Error("directory lookup failed", "user", hs.Username, "err", err)
		return
	}

	// Banned users never reach the registry.
	if s.mods.IsBanned(user.Username, time.Now()) {
		s.metrics.FailedHandshakes.Add(1)
		reason := ""
		if entry, ok := s.mods.BanEntry(user.Username); ok {
			reason = entry.Reason
		}
		sendError(conn, ReasonBanned, reason)
		return
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	if _, already := s.registry.Lookup(user.Username); already {
		s.metrics.SessionsReplaced.Add(1)
	}
	sess := s.registry.Register(user.Username, user.Roles, host)
	s.metrics.ActiveSessions.Add(1)
	slog.Info("client connected", "user", user.Username, "session", sess.ID, "remote", remoteAddr)

	// Write pump: drains the session queue onto the socket. The queue
	// channel closes when the session is terminated (disconnect, kick, or
	// replacement by a reconnect); closing the conn then unblocks the read
	// loop below.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for body := range sess.Events() {
			if err := protocol.WriteRaw(conn, body); err != nil {
				// An oversized body is refused before any bytes hit the
				// socket; losing that one event must not cost the
				// recipient their connection.
				if errors.Is(err, protocol.ErrFrameTooLarge) {
					s.metrics.EventsDropped.Add(1)
					slog.Warn("oversized event dropped", "user", sess.Username, "size", len(body))
					continue
				}
				slog.Debug("session write failed", "user", sess.Username, "err", err)
				break
			}
		}
		_ = conn.Close()
	}()

	for {
		cmd, err := protocol.ReadCommand(conn)
		if err != nil {
			break
		}
		sess.Touch(time.Now())
		if s.HandleCommand(s.ctx, sess, cmd) {
			break
		}
	}

	s.registry.Unregister(sess)
	<-writeDone
	s.metrics.ActiveSessions.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected", "user", sess.Username, "session", sess.ID)
}

// startIdleMonitor reaps sessions that have produced no traffic for the
// configured timeout.
func (s *Server) startIdleMonitor() {
	interval := time.Duration(s.cfg.IdleTimeout) / 2
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				reaped := s.registry.ReapIdle(time.Duration(s.cfg.IdleTimeout), time.Now())
				for _, sess := range reaped {
					slog.Info("idle session reaped", "user", sess.Username, "session", sess.ID)
				}
				s.metrics.IdleSessionsReaped.Add(int64(len(reaped)))
			}
		}
	}()
}

// sendError writes a user-scoped error event straight to a connection that
// has no registered session yet.
func sendError(conn net.Conn, reason, message string) {
	ev := &pb.Event{
		Scope: pb.ScopeUser,
		Error: &pb.Error{Reason: reason, Message: message},
	}
	if err := protocol.WriteEvent(conn, ev); err != nil {
		slog.Debug("error write failed", "err", err)
	}
}
