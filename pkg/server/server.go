// Package server implements the SpeakV relay server: one UDP socket, an
// address-keyed session registry, and durable persistence behind it.
package server

import (
	"context"
	"net"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/datastore"
)

const (
	// SessionTimeout is how long a peer may stay silent before the sweep
	// purges it.
	SessionTimeout = 30 * time.Second

	// SweepInterval is how often the liveness sweep runs.
	SweepInterval = 5 * time.Second

	// SlotTimeout ages out reassembly slots whose transfer stalled.
	SlotTimeout = 60 * time.Second

	// HistoryWindow bounds how many records a history replay returns.
	HistoryWindow = 50
)

// Config holds server configuration.
type Config struct {
	Addr         string // UDP bind address (e.g. ":9600")
	DBPath       string // SQLite database path
	ChannelsFile string // YAML file defining channels to create on startup
	MetricsAddr  string // HTTP bind address for /metrics endpoint (empty = disabled)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":9600",
		MetricsAddr: ":9602",
		DBPath:      "speakv.db",
	}
}

// PacketWriter sends one datagram to a peer. *net.UDPConn satisfies it;
// tests substitute a recorder.
type PacketWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory

	// Out overrides the outbound packet sink. Leave nil in production;
	// Run wires the bound UDP socket.
	Out PacketWriter

	// Now overrides the clock. Leave nil for time.Now().UTC().
	Now func() time.Time
}

// Server is the SpeakV relay server.
type Server struct {
	cfg      Config
	registry *Registry
	files    *reassembler
	metrics  *Metrics
	store    datastore.DataProviderFactory
	out      PacketWriter
	conn     *net.UDPConn
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		cfg:      cfg,
		registry: NewRegistryWithClock(now),
		files:    newReassembler(now),
		metrics:  NewMetrics(),
		store:    deps.Store,
		out:      deps.Out,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
