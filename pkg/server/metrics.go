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

	// Session counters
	SessionsCreated atomic.Int64 // lifetime sessions registered
	SessionsPurged  atomic.Int64 // sessions removed by the liveness sweep
	FailedAuths     atomic.Int64 // failed register/login attempts
	SuccessfulAuths atomic.Int64 // successful logins

	// Relay counters
	PacketsIn      atomic.Int64 // total datagrams received
	PacketsDropped atomic.Int64 // malformed, unauthorized, or muted-sender packets
	AudioFramesIn  atomic.Int64 // audio frames received
	AudioFramesOut atomic.Int64 // audio frames forwarded

	// Chat counters
	ChatMessagesSent    atomic.Int64 // channel chat messages relayed
	PrivateMessagesSent atomic.Int64 // direct messages delivered

	// File counters
	FilesCompleted atomic.Int64 // transfers fully reassembled and persisted
	SlotsExpired   atomic.Int64 // reassembly slots aged out

	// History counters
	HistoryRequests atomic.Int64 // history replays served

	// Admin counters
	KickCount atomic.Int64 // users kicked
	BanCount  atomic.Int64 // users banned
	MuteCount atomic.Int64 // mute/unmute actions applied
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

	SessionsCreated int64 `json:"sessions_created"`
	SessionsPurged  int64 `json:"sessions_purged"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`

	PacketsIn      int64 `json:"packets_in"`
	PacketsDropped int64 `json:"packets_dropped"`
	AudioFramesIn  int64 `json:"audio_frames_in"`
	AudioFramesOut int64 `json:"audio_frames_out"`

	ChatMessagesSent    int64 `json:"chat_messages_sent"`
	PrivateMessagesSent int64 `json:"private_messages_sent"`

	FilesCompleted int64 `json:"files_completed"`
	SlotsExpired   int64 `json:"slots_expired"`

	HistoryRequests int64 `json:"history_requests"`

	KickCount int64 `json:"kick_count"`
	BanCount  int64 `json:"ban_count"`
	MuteCount int64 `json:"mute_count"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		SessionsCreated:     m.SessionsCreated.Load(),
		SessionsPurged:      m.SessionsPurged.Load(),
		SuccessfulAuths:     m.SuccessfulAuths.Load(),
		FailedAuths:         m.FailedAuths.Load(),
		PacketsIn:           m.PacketsIn.Load(),
		PacketsDropped:      m.PacketsDropped.Load(),
		AudioFramesIn:       m.AudioFramesIn.Load(),
		AudioFramesOut:      m.AudioFramesOut.Load(),
		ChatMessagesSent:    m.ChatMessagesSent.Load(),
		PrivateMessagesSent: m.PrivateMessagesSent.Load(),
		FilesCompleted:      m.FilesCompleted.Load(),
		SlotsExpired:        m.SlotsExpired.Load(),
		HistoryRequests:     m.HistoryRequests.Load(),
		KickCount:           m.KickCount.Load(),
		BanCount:            m.BanCount.Load(),
		MuteCount:           m.MuteCount.Load(),
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
		"sessions_created", s.SessionsCreated,
		"packets_in", s.PacketsIn,
		"packets_dropped", s.PacketsDropped,
		"audio_in", s.AudioFramesIn,
		"audio_out", s.AudioFramesOut,
		"chat_msgs", s.ChatMessagesSent,
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
