package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :9302 by default — configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("chatd_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("chatd_sessions_active", "Current registered sessions.", "gauge",
		m.ActiveSessions.Load())
	write("chatd_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("chatd_handshakes_failed_total", "Rejected handshakes.", "counter",
		m.FailedHandshakes.Load())
	write("chatd_disconnects_total", "Total session ends.", "counter",
		m.TotalDisconnects.Load())
	write("chatd_sessions_replaced_total", "Sessions terminated by reconnect.", "counter",
		m.SessionsReplaced.Load())
	write("chatd_sessions_reaped_total", "Sessions dropped by the idle monitor.", "counter",
		m.IdleSessionsReaped.Load())

	write("chatd_messages_total", "Public messages broadcast.", "counter",
		m.MessagesRelayed.Load())
	write("chatd_priv_messages_total", "Private messages delivered.", "counter",
		m.PrivMessagesRelayed.Load())
	write("chatd_events_dropped_total", "Deliveries lost to full session queues.", "counter",
		m.EventsDropped.Load())
	write("chatd_pongs_total", "Ping commands answered.", "counter",
		m.PongsSent.Load())

	write("chatd_mutes_total", "Mutes issued.", "counter",
		m.MutesIssued.Load())
	write("chatd_unmutes_total", "Unmutes issued.", "counter",
		m.UnmutesIssued.Load())
	write("chatd_bans_total", "Bans issued.", "counter",
		m.BansIssued.Load())
	write("chatd_unbans_total", "Unbans issued.", "counter",
		m.UnbansIssued.Load())
	write("chatd_subonly_toggles_total", "Sub-only mode toggles.", "counter",
		m.SubonlyToggles.Load())
	write("chatd_commands_rejected_total", "Commands that produced an error event.", "counter",
		m.CommandsRejected.Load())
}
