package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections   atomic.Int64 // lifetime TCP connections accepted
	ActiveSessions     atomic.Int64 // current registered sessions
	FailedHandshakes   atomic.Int64 // rejected handshakes (bad name, banned, read error)
	TotalDisconnects   atomic.Int64 // total session ends (clean + unclean)
	SessionsReplaced   atomic.Int64 // sessions terminated by a reconnect under the same name
	IdleSessionsReaped atomic.Int64 // sessions dropped by the idle monitor

	// Relay counters
	MessagesRelayed     atomic.Int64 // public messages broadcast
	PrivMessagesRelayed atomic.Int64 // private messages delivered
	EventsDropped       atomic.Int64 // deliveries lost to full session queues
	PongsSent           atomic.Int64 // ping commands answered

	// Moderation counters
	MutesIssued      atomic.Int64
	UnmutesIssued    atomic.Int64
	BansIssued       atomic.Int64
	UnbansIssued     atomic.Int64
	SubonlyToggles   atomic.Int64
	CommandsRejected atomic.Int64 // commands that produced an error event
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveSessions     int64 `json:"active_sessions"`
	TotalConnections   int64 `json:"total_connections"`
	FailedHandshakes   int64 `json:"failed_handshakes"`
	TotalDisconnects   int64 `json:"total_disconnects"`
	SessionsReplaced   int64 `json:"sessions_replaced"`
	IdleSessionsReaped int64 `json:"idle_sessions_reaped"`

	MessagesRelayed     int64 `json:"messages_relayed"`
	PrivMessagesRelayed int64 `json:"priv_messages_relayed"`
	EventsDropped       int64 `json:"events_dropped"`
	PongsSent           int64 `json:"pongs_sent"`

	MutesIssued      int64 `json:"mutes_issued"`
	UnmutesIssued    int64 `json:"unmutes_issued"`
	BansIssued       int64 `json:"bans_issued"`
	UnbansIssued     int64 `json:"unbans_issued"`
	SubonlyToggles   int64 `json:"subonly_toggles"`
	CommandsRejected int64 `json:"commands_rejected"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveSessions:      m.ActiveSessions.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		FailedHandshakes:    m.FailedHandshakes.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		SessionsReplaced:    m.SessionsReplaced.Load(),
		IdleSessionsReaped:  m.IdleSessionsReaped.Load(),
		MessagesRelayed:     m.MessagesRelayed.Load(),
		PrivMessagesRelayed: m.PrivMessagesRelayed.Load(),
		EventsDropped:       m.EventsDropped.Load(),
		PongsSent:           m.PongsSent.Load(),
		MutesIssued:         m.MutesIssued.Load(),
		UnmutesIssued:       m.UnmutesIssued.Load(),
		BansIssued:          m.BansIssued.Load(),
		UnbansIssued:        m.UnbansIssued.Load(),
		SubonlyToggles:      m.SubonlyToggles.Load(),
		CommandsRejected:    m.CommandsRejected.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"total_connections", s.TotalConnections,
		"messages", s.MessagesRelayed,
		"priv_messages", s.PrivMessagesRelayed,
		"dropped", s.EventsDropped,
		"rejected", s.CommandsRejected,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
