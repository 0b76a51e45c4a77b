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

	writeFloat("speakv_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("speakv_sessions_active", "Current connected sessions.", "gauge",
		int64(s.registry.Count()))
	write("speakv_sessions_created_total", "Lifetime sessions registered.", "counter",
		m.SessionsCreated.Load())
	write("speakv_sessions_purged_total", "Sessions removed by the liveness sweep.", "counter",
		m.SessionsPurged.Load())

	write("speakv_auth_success_total", "Successful logins.", "counter",
		m.SuccessfulAuths.Load())
	write("speakv_auth_failed_total", "Failed register/login attempts.", "counter",
		m.FailedAuths.Load())

	write("speakv_packets_in_total", "Total datagrams received.", "counter",
		m.PacketsIn.Load())
	write("speakv_packets_dropped_total", "Dropped datagrams.", "counter",
		m.PacketsDropped.Load())
	write("speakv_audio_frames_in_total", "Audio frames received.", "counter",
		m.AudioFramesIn.Load())
	write("speakv_audio_frames_out_total", "Audio frames forwarded.", "counter",
		m.AudioFramesOut.Load())

	write("speakv_chat_messages_total", "Channel chat messages relayed.", "counter",
		m.ChatMessagesSent.Load())
	write("speakv_private_messages_total", "Direct messages delivered.", "counter",
		m.PrivateMessagesSent.Load())

	write("speakv_files_completed_total", "File transfers reassembled and persisted.", "counter",
		m.FilesCompleted.Load())
	write("speakv_file_slots_expired_total", "Reassembly slots aged out.", "counter",
		m.SlotsExpired.Load())

	write("speakv_history_requests_total", "History replays served.", "counter",
		m.HistoryRequests.Load())

	write("speakv_kicks_total", "Users kicked.", "counter",
		m.KickCount.Load())
	write("speakv_bans_total", "Users banned.", "counter",
		m.BanCount.Load())
	write("speakv_mutes_total", "Mute and unmute actions applied.", "counter",
		m.MuteCount.Load())
}
