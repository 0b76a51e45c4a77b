// Package client implements the SpeakV peer: one UDP socket driven by a
// fixed-interval loop that interleaves control traffic with voice frames.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/RomaniukOleksii/SpeakV/pkg/audio"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

const (
	// loopInterval paces the session loop at one audio frame.
	loopInterval = protocol.FrameDuration * time.Millisecond

	// readDeadline bounds the blocking read inside one loop iteration.
	readDeadline = 5 * time.Millisecond

	// pingInterval keeps the server-side session alive while idle.
	pingInterval = 5 * time.Second

	// incomingTimeout ages out a transfer whose chunks stopped arriving.
	incomingTimeout = 60 * time.Second
	sweepInterval   = 5 * time.Second

	outgoingDepth = 64
	inboxDepth    = 256

	// maxChunksPerTick paces outbound transfers so a large file cannot
	// flood the socket or starve control traffic.
	maxChunksPerTick = 8
)

// Session is one client connection. Intents enter through Queue (or the
// typed helpers), produced events leave through Inbox, and voice flows
// through the attached pipeline. All socket traffic happens on the loop
// goroutine.
type Session struct {
	conn     *net.UDPConn
	pipeline *audio.Pipeline
	now      func() time.Time

	outgoing chan *protocol.Packet
	fileOut  chan *protocol.Packet
	inbox    chan *protocol.Packet
	files    chan *ReceivedFile

	transmit atomic.Bool

	mu       sync.RWMutex
	username string
	gains    map[string]float32
	speaking map[string]time.Time
	pending  map[string]*incomingFile

	stop     chan struct{}
	stopOnce sync.Once
}

// ReceivedFile is a fully reassembled incoming transfer.
type ReceivedFile struct {
	ID       string
	Sender   string
	Channel  string
	Filename string
	Data     []byte
	IsImage  bool
}

type incomingFile struct {
	start    protocol.FileStart
	chunks   [][]byte
	received int
	lastSeen time.Time
}

// Dial connects to a SpeakV server. The pipeline may be nil for a
// voiceless session (no frames are sent and incoming audio is dropped).
func Dial(serverAddr string, pipeline *audio.Pipeline) (*Session, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	_ = conn.SetReadBuffer(512 * 1024)
	_ = conn.SetWriteBuffer(512 * 1024)

	return &Session{
		conn:     conn,
		pipeline: pipeline,
		now:      func() time.Time { return time.Now().UTC() },
		outgoing: make(chan *protocol.Packet, outgoingDepth),
		fileOut:  make(chan *protocol.Packet, maxChunksPerTick),
		inbox:    make(chan *protocol.Packet, inboxDepth),
		files:    make(chan *ReceivedFile, 8),
		gains:    make(map[string]float32),
		speaking: make(map[string]time.Time),
		pending:  make(map[string]*incomingFile),
		stop:     make(chan struct{}),
	}, nil
}

// Inbox delivers every non-audio packet the server sends.
func (s *Session) Inbox() <-chan *protocol.Packet {
	return s.inbox
}

// Files delivers reassembled incoming transfers.
func (s *Session) Files() <-chan *ReceivedFile {
	return s.files
}

// Queue enqueues one outbound packet for the next loop iteration.
// A full queue drops the packet; voice never waits on control traffic.
func (s *Session) Queue(pkt *protocol.Packet) {
	select {
	case s.outgoing <- pkt:
	default:
		slog.Warn("outgoing queue full, dropping", "kind", pkt.KindOf())
	}
}

// SetTransmit flips whether buffered capture frames go to the wire.
// While off, frames are still consumed and discarded so stale audio never
// bursts out when transmission resumes.
func (s *Session) SetTransmit(on bool) {
	s.transmit.Store(on)
}

// SetGain sets the playback gain for one remote speaker.
func (s *Session) SetGain(username string, gain float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains[username] = gain
}

// Gain returns the playback gain for a speaker (default 1.0).
func (s *Session) Gain(username string) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.gains[username]; ok {
		return g
	}
	return 1.0
}

// Speaking returns the users whose voice was heard within window.
func (s *Session) Speaking(window time.Duration) []string {
	cutoff := s.now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for user, last := range s.speaking {
		if last.After(cutoff) {
			out = append(out, user)
		}
	}
	return out
}

// Stop signals the loop to exit. Effective within one iteration; safe to
// call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Run drives the session until Stop. Each iteration drains queued
// intents, moves at most one captured frame to the wire, and reads at
// most one datagram.
func (s *Session) Run() {
	defer func() { _ = s.conn.Close() }()

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	frame := make([]float32, protocol.FrameSize)
	lastPing := s.now()
	lastSweep := lastPing

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.drainOutgoing()
		s.pumpFileChunks()

		if s.pipeline != nil && s.pipeline.PopTransmitFrame(frame) {
			if s.transmit.Load() {
				s.write(&protocol.Packet{Audio: &protocol.Audio{Sender: s.Username(), Samples: frame}})
			}
			// else: frame consumed and discarded
		}

		s.readOne()

		if now := s.now(); now.Sub(lastPing) >= pingInterval {
			lastPing = now
			s.write(&protocol.Packet{Ping: &protocol.Ping{}})
		}
		if now := s.now(); now.Sub(lastSweep) >= sweepInterval {
			lastSweep = now
			s.expirePending(now.Add(-incomingTimeout))
		}
	}
}

// expirePending drops incoming transfers with no chunk since cutoff.
func (s *Session) expirePending(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, slot := range s.pending {
		if slot.lastSeen.Before(cutoff) {
			delete(s.pending, id)
			slog.Debug("dropping stalled incoming transfer", "id", id, "filename", slot.start.Filename)
		}
	}
}

func (s *Session) drainOutgoing() {
	for {
		select {
		case pkt := <-s.outgoing:
			s.write(pkt)
		default:
			return
		}
	}
}

// pumpFileChunks moves a bounded number of transfer chunks to the wire
// each iteration. SendFile blocks on fileOut, so arbitrarily large
// transfers trickle out without ever dropping a chunk.
func (s *Session) pumpFileChunks() {
	for i := 0; i < maxChunksPerTick; i++ {
		select {
		case pkt := <-s.fileOut:
			s.write(pkt)
		default:
			return
		}
	}
}

func (s *Session) write(pkt *protocol.Packet) {
	data, err := pkt.Marshal()
	if err != nil {
		slog.Error("marshal outbound packet", "kind", pkt.KindOf(), "err", err)
		return
	}
	if _, err := s.conn.Write(data); err != nil {
		slog.Debug("send failed", "err", err)
	}
}

func (s *Session) readOne() {
	buf := make([]byte, protocol.MaxPacketSize)
	_ = s.conn.SetReadDeadline(s.now().Add(readDeadline))
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		slog.Debug("read failed", "err", err)
		return
	}

	pkt, err := protocol.Unmarshal(buf[:n])
	if err != nil {
		slog.Debug("dropping malformed packet", "err", err)
		return
	}

	switch pkt.KindOf() {
	case protocol.KindAudio:
		s.handleAudio(pkt.Audio)
	case protocol.KindFileStart:
		s.openTransfer(pkt.FileStart)
		s.deliver(pkt)
	case protocol.KindFileChunk:
		s.addChunk(pkt.FileChunk)
	default:
		s.deliver(pkt)
	}
}

func (s *Session) deliver(pkt *protocol.Packet) {
	select {
	case s.inbox <- pkt:
	default:
		slog.Warn("inbox full, dropping", "kind", pkt.KindOf())
	}
}

func (s *Session) handleAudio(a *protocol.Audio) {
	s.mu.Lock()
	s.speaking[a.Sender] = s.now()
	gain, ok := s.gains[a.Sender]
	s.mu.Unlock()
	if !ok {
		gain = 1.0
	}

	if s.pipeline == nil {
		return
	}
	samples := a.Samples
	if gain != 1.0 {
		samples = make([]float32, len(a.Samples))
		for i, v := range a.Samples {
			samples[i] = v * gain
		}
	}
	s.pipeline.PushRemote(samples)
}

func (s *Session) openTransfer(fs *protocol.FileStart) {
	if fs.TotalChunks <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[fs.ID] = &incomingFile{
		start:    *fs,
		chunks:   make([][]byte, fs.TotalChunks),
		lastSeen: s.now(),
	}
}

func (s *Session) addChunk(fc *protocol.FileChunk) {
	s.mu.Lock()
	slot, ok := s.pending[fc.ID]
	if !ok || fc.Index < 0 || fc.Index >= len(slot.chunks) || slot.chunks[fc.Index] != nil {
		s.mu.Unlock()
		return
	}
	slot.chunks[fc.Index] = append(make([]byte, 0, len(fc.Data)), fc.Data...)
	slot.received++
	slot.lastSeen = s.now()
	done := slot.received == len(slot.chunks)
	if done {
		delete(s.pending, fc.ID)
	}
	s.mu.Unlock()

	if !done {
		return
	}
	var data []byte
	for _, c := range slot.chunks {
		data = append(data, c...)
	}
	rf := &ReceivedFile{
		ID:       slot.start.ID,
		Sender:   slot.start.Sender,
		Channel:  slot.start.Channel,
		Filename: slot.start.Filename,
		Data:     data,
		IsImage:  slot.start.IsImage,
	}
	select {
	case s.files <- rf:
	default:
		slog.Warn("file queue full, dropping transfer", "id", rf.ID)
	}
}

// ---- Typed intents ----

// Username returns the identity announced on this session.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// Hello announces this peer to the server.
func (s *Session) Hello(username string) {
	s.setUsername(username)
	s.Queue(&protocol.Packet{Hello: &protocol.Hello{Username: username}})
}

// Register submits a new account.
func (s *Session) Register(username, password string) {
	s.Queue(&protocol.Packet{Register: &protocol.Credentials{Username: username, Password: password}})
}

// Login authenticates an existing account.
func (s *Session) Login(username, password string) {
	s.setUsername(username)
	s.Queue(&protocol.Packet{Login: &protocol.Credentials{Username: username, Password: password}})
}

// SendChat sends a channel message and returns its id.
func (s *Session) SendChat(body string) string {
	id := uuid.NewString()
	s.Queue(&protocol.Packet{Chat: &protocol.Chat{ID: id, Body: body}})
	return id
}

// SendTyping toggles the typing indicator.
func (s *Session) SendTyping(active bool) {
	s.Queue(&protocol.Packet{Typing: &protocol.Typing{Active: active}})
}

// CreateChannel asks the server to create a channel.
func (s *Session) CreateChannel(name string) {
	s.Queue(&protocol.Packet{CreateChannel: &protocol.ChannelRequest{Name: name}})
}

// JoinChannel moves this session into an existing channel.
func (s *Session) JoinChannel(name string) {
	s.Queue(&protocol.Packet{JoinChannel: &protocol.ChannelRequest{Name: name}})
}

// SendPrivate sends a direct message and returns its id.
func (s *Session) SendPrivate(recipient, body string) string {
	id := uuid.NewString()
	s.Queue(&protocol.Packet{PrivateMessage: &protocol.PrivateMessage{
		ID: id, Recipient: recipient, Body: body,
	}})
	return id
}

// SendReaction attaches an emoji to a previously seen message.
func (s *Session) SendReaction(messageID, emoji string) {
	s.Queue(&protocol.Packet{Reaction: &protocol.Reaction{MessageID: messageID, Emoji: emoji}})
}

// SetProfile updates this account's avatar and bio.
func (s *Session) SetProfile(avatarURL, bio string) {
	s.Queue(&protocol.Packet{ProfileSet: &protocol.Profile{AvatarURL: avatarURL, Bio: bio}})
}

// RequestProfile asks for another user's profile.
func (s *Session) RequestProfile(username string) {
	s.Queue(&protocol.Packet{ProfileRequest: &protocol.ProfileRequest{Username: username}})
}

// RequestHistory asks for a channel replay, or the direct conversation
// with withUser when set.
func (s *Session) RequestHistory(channel, withUser string) {
	s.Queue(&protocol.Packet{HistoryRequest: &protocol.HistoryRequest{Channel: channel, WithUser: withUser}})
}

// SendAdminAction submits a moderation action.
func (s *Session) SendAdminAction(target string, kind protocol.AdminActionKind) {
	s.Queue(&protocol.Packet{AdminAction: &protocol.AdminAction{Target: target, Kind: kind}})
}

// SendFile chunks data and starts feeding the transfer to the loop.
// Chunks go through the paced transfer queue with backpressure, so the
// call returns immediately and every chunk eventually reaches the wire.
// Recipient empty means the current channel. Returns the transfer id.
func (s *Session) SendFile(filename string, data []byte, isImage bool, recipient string) string {
	id := uuid.NewString()
	chunks := SplitChunks(data)
	s.Queue(&protocol.Packet{FileStart: &protocol.FileStart{
		ID:          id,
		Recipient:   recipient,
		Filename:    filename,
		IsImage:     isImage,
		TotalChunks: len(chunks),
	}})
	go func() {
		for i, c := range chunks {
			pkt := &protocol.Packet{FileChunk: &protocol.FileChunk{ID: id, Index: i, Data: c}}
			select {
			case s.fileOut <- pkt:
			case <-s.stop:
				return
			}
		}
	}()
	return id
}

// SplitChunks slices data into transfer chunks of at most
// protocol.ChunkSize bytes. Empty data yields one empty chunk so even a
// zero-byte file completes.
func SplitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := protocol.ChunkSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
