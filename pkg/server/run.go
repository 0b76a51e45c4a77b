package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/model"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
	"github.com/RomaniukOleksii/SpeakV/pkg/version"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.NonTx().Close() }()

	// Ensure the default channel exists
	created, err := s.store.NonTx().CreateChannel(&model.Channel{Name: model.ChannelDefaultName})
	if err != nil {
		return fmt.Errorf("server: create default channel: %w", err)
	}
	if created {
		slog.Info("created default channel", "name", model.ChannelDefaultName)
	}

	// Load channels from YAML config if provided
	if s.cfg.ChannelsFile != "" {
		if err := LoadChannelsFromYAML(s.cfg.ChannelsFile, s.store.NonTx()); err != nil {
			slog.Error("failed to load channels config", "err", err)
		}
	}

	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("SpeakV server running", "version", version.String(), "addr", s.cfg.Addr)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Start binds the UDP socket and launches the receive loop and the
// liveness sweep.
func (s *Server) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.conn = conn
	if s.out == nil {
		s.out = conn
	}

	go s.recvLoop()
	go s.sweepLoop()
	return nil
}

// recvLoop reads datagrams until the socket closes. One goroutine owns the
// socket read side; handlers run inline, keeping packet handling ordered
// per peer.
func (s *Server) recvLoop() {
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("read error", "err", err)
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.Handle(data, addr)
	}
}

// sweepLoop periodically purges idle sessions and stalled transfers.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one liveness pass: idle sessions out, stalled reassembly
// slots out. A pass that removed sessions triggers a single broadcast.
func (s *Server) Sweep() {
	purged := s.registry.Purge(SessionTimeout)
	if purged > 0 {
		s.metrics.SessionsPurged.Add(int64(purged))
		slog.Info("purged idle sessions", "count", purged)
		s.broadcastState()
	}
	expired := s.files.Expire(SlotTimeout)
	if expired > 0 {
		s.metrics.SlotsExpired.Add(int64(expired))
		slog.Info("expired stalled transfers", "count", expired)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
