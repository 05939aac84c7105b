// Package server implements the chat relay engine: it validates incoming
// commands against moderation state, translates them into events, and fans
// events out to connected sessions.
package server

import (
	"context"
	"net"

	"github.com/gnomegg/chatd/pkg/moderation"
	"github.com/gnomegg/chatd/pkg/registry"
	"github.com/gnomegg/chatd/pkg/store"
)

// Dependencies holds external dependencies for the server.
// The server assumes ownership of Repo and Directory and closes them on
// shutdown.
type Dependencies struct {
	// Repo persists moderation entries so they survive a restart.
	Repo store.ModerationRepository
	// Directory resolves usernames and role flags.
	Directory store.UserDirectory
}

// Server is the chat relay engine.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	mods      *moderation.Store
	metrics   *Metrics
	repo      store.ModerationRepository
	directory store.UserDirectory

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	mods := moderation.NewStore()
	mods.SetSubonly(cfg.SubOnly)
	return &Server{
		cfg:       cfg,
		registry:  registry.New(cfg.QueueDepth),
		mods:      mods,
		metrics:   NewMetrics(),
		repo:      deps.Repo,
		directory: deps.Directory,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Moderation returns the in-memory moderation store.
func (s *Server) Moderation() *moderation.Store {
	return s.mods
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
