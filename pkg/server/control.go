package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/RomaniukOleksii/SpeakV/pkg/crypto"
	"github.com/RomaniukOleksii/SpeakV/pkg/model"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
	"github.com/RomaniukOleksii/SpeakV/pkg/rbac"
)

// Handle parses one raw datagram and dispatches it. Malformed packets are
// dropped with a diagnostic; the receive loop never dies on bad input.
func (s *Server) Handle(data []byte, addr *net.UDPAddr) {
	s.metrics.PacketsIn.Add(1)

	pkt, err := protocol.Unmarshal(data)
	if err != nil {
		s.metrics.PacketsDropped.Add(1)
		slog.Debug("dropping malformed packet", "addr", addr, "err", err)
		return
	}
	s.HandlePacket(pkt, addr)
}

// HandlePacket dispatches one decoded packet from addr.
func (s *Server) HandlePacket(pkt *protocol.Packet, addr *net.UDPAddr) {
	switch pkt.KindOf() {
	case protocol.KindAudio:
		s.handleAudio(pkt.Audio, addr)
	case protocol.KindHello:
		s.handleHello(pkt.Hello, addr)
	case protocol.KindRegister:
		s.handleRegister(pkt.Register, addr)
	case protocol.KindLogin:
		s.handleLogin(pkt.Login, addr)
	case protocol.KindChat:
		s.handleChat(pkt.Chat, addr)
	case protocol.KindTyping:
		s.handleTyping(pkt.Typing, addr)
	case protocol.KindCreateChannel:
		s.handleCreateChannel(pkt.CreateChannel, addr)
	case protocol.KindJoinChannel:
		s.handleJoinChannel(pkt.JoinChannel, addr)
	case protocol.KindPrivateMessage:
		s.handlePrivateMessage(pkt.PrivateMessage, addr)
	case protocol.KindFileStart:
		s.handleFileStart(pkt.FileStart, addr)
	case protocol.KindFileChunk:
		s.handleFileChunk(pkt.FileChunk, addr)
	case protocol.KindReaction:
		s.handleReaction(pkt.Reaction, addr)
	case protocol.KindProfileRequest:
		s.handleProfileRequest(pkt.ProfileRequest, addr)
	case protocol.KindProfileSet:
		s.handleProfileSet(pkt.ProfileSet, addr)
	case protocol.KindHistoryRequest:
		s.handleHistoryRequest(pkt.HistoryRequest, addr)
	case protocol.KindAdminAction:
		s.handleAdminAction(pkt.AdminAction, addr)
	case protocol.KindPing:
		s.registry.Touch(addr)
	default:
		// Server-originated kinds arriving inbound are dropped.
		s.metrics.PacketsDropped.Add(1)
		slog.Debug("dropping unexpected inbound kind", "addr", addr, "kind", pkt.KindOf())
	}
}

// send marshals and writes one packet to a single peer.
func (s *Server) send(addr *net.UDPAddr, pkt *protocol.Packet) {
	data, err := pkt.Marshal()
	if err != nil {
		slog.Error("marshal outbound packet", "kind", pkt.KindOf(), "err", err)
		return
	}
	if _, err := s.out.WriteToUDP(data, addr); err != nil {
		slog.Debug("send failed", "addr", addr, "err", err)
	}
}

// relay marshals once and writes to every address in addrs.
func (s *Server) relay(addrs []*net.UDPAddr, pkt *protocol.Packet) {
	data, err := pkt.Marshal()
	if err != nil {
		slog.Error("marshal relay packet", "kind", pkt.KindOf(), "err", err)
		return
	}
	for _, a := range addrs {
		if _, err := s.out.WriteToUDP(data, a); err != nil {
			slog.Debug("relay send failed", "addr", a, "err", err)
		}
	}
}

// authed returns the session for addr only if it is authenticated,
// refreshing its liveness.
func (s *Server) authed(addr *net.UDPAddr) (model.Session, bool) {
	sess, ok := s.registry.Get(addr)
	if !ok || !sess.Authenticated {
		s.metrics.PacketsDropped.Add(1)
		return model.Session{}, false
	}
	s.registry.Touch(addr)
	return sess, true
}

func (s *Server) handleAudio(a *protocol.Audio, addr *net.UDPAddr) {
	s.metrics.AudioFramesIn.Add(1)

	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	if sess.Muted {
		s.metrics.PacketsDropped.Add(1)
		return
	}

	out := &protocol.Packet{Audio: &protocol.Audio{
		Sender:  sess.Username,
		Samples: a.Samples,
	}}
	targets := s.registry.ChannelAddrs(sess.Channel, addr)
	s.relay(targets, out)
	s.metrics.AudioFramesOut.Add(int64(len(targets)))
}

func (s *Server) handleHello(h *protocol.Hello, addr *net.UDPAddr) {
	if s.registry.Upsert(addr, h.Username) {
		s.metrics.SessionsCreated.Add(1)
		slog.Info("peer connected", "addr", addr, "username", h.Username)
	}
	s.broadcastState()
}

func (s *Server) handleRegister(c *protocol.Credentials, addr *net.UDPAddr) {
	s.registry.Upsert(addr, "")

	reply := func(success bool, msg string) {
		if !success {
			s.metrics.FailedAuths.Add(1)
		}
		s.send(addr, &protocol.Packet{AuthResponse: &protocol.AuthResponse{
			Success: success,
			Message: msg,
		}})
	}

	if err := model.ValidateUsername(c.Username); err != nil {
		reply(false, err.Error())
		return
	}
	if c.Password == "" {
		reply(false, "password must not be empty")
		return
	}

	hash, err := crypto.HashPassword(c.Password)
	if err != nil {
		slog.Error("hash password", "err", err)
		reply(false, "internal error")
		return
	}

	if err := s.registerUser(c.Username, hash); err != nil {
		slog.Info("registration rejected", "username", c.Username, "err", err)
		reply(false, "username already taken")
		return
	}

	slog.Info("user registered", "username", c.Username)
	// Registration never authenticates; the client logs in explicitly.
	reply(true, "registered")
}

// registerUser creates the account inside one transaction so the
// first-account admin promotion cannot race a concurrent registration.
func (s *Server) registerUser(username, hash string) error {
	tx, err := s.store.Tx(context.Background())
	if err != nil {
		return fmt.Errorf("server: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	count, err := tx.CountUsers()
	if err != nil {
		return err
	}
	role := model.RoleUser
	if count == 0 {
		role = model.RoleAdmin
	}
	if _, err := tx.CreateUser(username, hash, role); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Server) handleLogin(c *protocol.Credentials, addr *net.UDPAddr) {
	s.registry.Upsert(addr, "")

	fail := func(msg string) {
		s.metrics.FailedAuths.Add(1)
		s.send(addr, &protocol.Packet{AuthResponse: &protocol.AuthResponse{
			Success: false,
			Message: msg,
		}})
	}

	user, err := s.store.NonTx().GetUserByUsername(c.Username)
	if err != nil {
		slog.Error("lookup user", "username", c.Username, "err", err)
		fail("internal error")
		return
	}
	if user == nil {
		fail("invalid credentials")
		return
	}
	ok, err := crypto.VerifyPassword(c.Password, user.PasswordHash)
	if err != nil || !ok {
		fail("invalid credentials")
		return
	}
	if user.Banned {
		slog.Info("banned user rejected", "username", c.Username, "addr", addr)
		fail("account banned")
		return
	}

	s.registry.Authenticate(addr, user)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("user authenticated", "username", user.Username, "role", user.Role.String(), "addr", addr)

	s.send(addr, &protocol.Packet{AuthResponse: &protocol.AuthResponse{
		Success:   true,
		Message:   "welcome",
		Role:      user.Role.String(),
		Status:    user.Status,
		NickColor: user.NickColor,
	}})
	s.broadcastState()
}

func (s *Server) handleChat(c *protocol.Chat, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	// A server-muted sender's chat goes nowhere, same as their audio.
	if sess.Muted {
		s.metrics.PacketsDropped.Add(1)
		return
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	msg := &model.ChatMessage{
		ID:        id,
		Username:  sess.Username,
		Channel:   sess.Channel,
		Body:      c.Body,
		Timestamp: now,
	}
	if err := s.store.NonTx().SaveChatMessage(msg); err != nil {
		slog.Error("persist chat message", "err", err)
		return
	}

	out := &protocol.Packet{Chat: &protocol.Chat{
		ID:        id,
		Username:  sess.Username,
		Channel:   sess.Channel,
		Body:      c.Body,
		Timestamp: now.UnixMilli(),
	}}
	s.relay(s.registry.ChannelAddrs(sess.Channel, addr), out)
	s.metrics.ChatMessagesSent.Add(1)
}

func (s *Server) handleTyping(t *protocol.Typing, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	out := &protocol.Packet{Typing: &protocol.Typing{
		Username: sess.Username,
		Active:   t.Active,
	}}
	s.relay(s.registry.ChannelAddrs(sess.Channel, addr), out)
}

func (s *Server) handleCreateChannel(req *protocol.ChannelRequest, addr *net.UDPAddr) {
	if _, ok := s.authed(addr); !ok {
		return
	}
	created, err := s.store.NonTx().CreateChannel(&model.Channel{Name: req.Name})
	if err != nil {
		slog.Info("create channel rejected", "name", req.Name, "err", err)
		return
	}
	if created {
		slog.Info("channel created", "name", req.Name)
		s.broadcastState()
	}
}

func (s *Server) handleJoinChannel(req *protocol.ChannelRequest, addr *net.UDPAddr) {
	if _, ok := s.authed(addr); !ok {
		return
	}
	exists, err := s.store.NonTx().ChannelExists(req.Name)
	if err != nil {
		slog.Error("check channel", "name", req.Name, "err", err)
		return
	}
	if !exists {
		slog.Debug("join of unknown channel ignored", "name", req.Name, "addr", addr)
		return
	}
	s.registry.SetChannel(addr, req.Name)
	s.broadcastState()
}

func (s *Server) handlePrivateMessage(pm *protocol.PrivateMessage, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	if sess.Muted {
		s.metrics.PacketsDropped.Add(1)
		return
	}

	id := pm.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	msg := &model.PrivateMessage{
		ID:        id,
		Sender:    sess.Username,
		Recipient: pm.Recipient,
		Body:      pm.Body,
		Timestamp: now,
	}
	if err := s.store.NonTx().SavePrivateMessage(msg); err != nil {
		slog.Error("persist private message", "err", err)
		return
	}

	out := &protocol.Packet{PrivateMessage: &protocol.PrivateMessage{
		ID:        id,
		Sender:    sess.Username,
		Recipient: pm.Recipient,
		Body:      pm.Body,
		Timestamp: now.UnixMilli(),
	}}
	s.relay(s.registry.UserAddrs(pm.Recipient), out)
	s.metrics.PrivateMessagesSent.Add(1)
}

func (s *Server) handleFileStart(fs *protocol.FileStart, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}

	start := *fs
	start.Sender = sess.Username
	if start.Recipient == "" {
		start.Channel = sess.Channel
	}
	s.files.Open(sess.Username, &start)

	s.relay(s.fileTargets(&start, addr), &protocol.Packet{FileStart: &start})
}

func (s *Server) handleFileChunk(fc *protocol.FileChunk, addr *net.UDPAddr) {
	if _, ok := s.authed(addr); !ok {
		return
	}

	start, _, known := s.files.Lookup(fc.ID)
	if !known {
		s.metrics.PacketsDropped.Add(1)
		return
	}
	s.relay(s.fileTargets(&start, addr), &protocol.Packet{FileChunk: fc})

	done := s.files.Add(fc.ID, fc.Index, fc.Data)
	if done == nil {
		return
	}

	msg := &model.FileMessage{
		ID:        done.start.ID,
		Sender:    done.sender,
		Channel:   done.start.Channel,
		Recipient: done.start.Recipient,
		Filename:  done.start.Filename,
		Data:      done.data,
		IsImage:   done.start.IsImage,
		Timestamp: s.now(),
	}
	if err := s.store.NonTx().SaveFileMessage(msg); err != nil {
		slog.Error("persist file message", "id", msg.ID, "err", err)
		return
	}
	s.metrics.FilesCompleted.Add(1)
	slog.Info("file transfer complete", "id", msg.ID, "filename", msg.Filename, "bytes", len(msg.Data))
}

// fileTargets resolves the relay scope of a transfer: the recipient's
// sessions for a direct send, the sender's channel otherwise.
func (s *Server) fileTargets(start *protocol.FileStart, from *net.UDPAddr) []*net.UDPAddr {
	if start.Recipient != "" {
		return s.registry.UserAddrs(start.Recipient)
	}
	return s.registry.ChannelAddrs(start.Channel, from)
}

func (s *Server) handleReaction(r *protocol.Reaction, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}

	reaction := &model.Reaction{
		MessageID: r.MessageID,
		Username:  sess.Username,
		Emoji:     r.Emoji,
	}
	if err := s.store.NonTx().AddReaction(reaction); err != nil {
		slog.Error("persist reaction", "err", err)
		return
	}

	// Reactions are globally visible; the sender gets the echo too.
	out := &protocol.Packet{Reaction: &protocol.Reaction{
		MessageID: r.MessageID,
		Username:  sess.Username,
		Emoji:     r.Emoji,
	}}
	s.relay(s.registry.AuthedAddrs(nil), out)
}

func (s *Server) handleProfileRequest(req *protocol.ProfileRequest, addr *net.UDPAddr) {
	if _, ok := s.authed(addr); !ok {
		return
	}
	user, err := s.store.NonTx().GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("lookup profile", "username", req.Username, "err", err)
		return
	}
	if user == nil {
		return
	}
	s.send(addr, &protocol.Packet{ProfileData: &protocol.Profile{
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Bio:       user.Bio,
	}})
}

func (s *Server) handleProfileSet(p *protocol.Profile, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	if err := s.store.NonTx().UpdateUserProfile(sess.Username, p.AvatarURL, p.Bio); err != nil {
		slog.Error("update profile", "username", sess.Username, "err", err)
		return
	}

	// Profile changes are globally visible.
	s.relay(s.registry.AllAddrs(), &protocol.Packet{ProfileData: &protocol.Profile{
		Username:  sess.Username,
		AvatarURL: p.AvatarURL,
		Bio:       p.Bio,
	}})
}

func (s *Server) handleAdminAction(a *protocol.AdminAction, addr *net.UDPAddr) {
	actor, ok := s.authed(addr)
	if !ok {
		return
	}

	var perm model.Permission
	switch a.Kind {
	case protocol.AdminKick:
		perm = model.PermKickUser
	case protocol.AdminBan:
		perm = model.PermBanUser
	case protocol.AdminMute, protocol.AdminUnmute:
		perm = model.PermMuteUser
	default:
		s.metrics.PacketsDropped.Add(1)
		return
	}
	if !rbac.HasPermission(actor.Role, perm) {
		s.metrics.PacketsDropped.Add(1)
		slog.Info("admin action denied", "actor", actor.Username, "kind", a.Kind, "target", a.Target)
		return
	}

	switch a.Kind {
	case protocol.AdminKick:
		s.registry.RemoveByUsername(a.Target)
		s.metrics.KickCount.Add(1)
		slog.Info("user kicked", "actor", actor.Username, "target", a.Target)
	case protocol.AdminBan:
		if err := s.store.NonTx().SetUserBanned(a.Target, true); err != nil {
			slog.Error("persist ban", "target", a.Target, "err", err)
			return
		}
		s.registry.RemoveByUsername(a.Target)
		s.metrics.BanCount.Add(1)
		slog.Info("user banned", "actor", actor.Username, "target", a.Target)
	case protocol.AdminMute:
		s.registry.SetMuted(a.Target, true)
		s.metrics.MuteCount.Add(1)
		slog.Info("user muted", "actor", actor.Username, "target", a.Target)
	case protocol.AdminUnmute:
		s.registry.SetMuted(a.Target, false)
		s.metrics.MuteCount.Add(1)
		slog.Info("user unmuted", "actor", actor.Username, "target", a.Target)
	}
	s.broadcastState()
}
