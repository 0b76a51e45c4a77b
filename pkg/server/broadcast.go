package server

import (
	"log/slog"
	"sort"

	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

// broadcastState sends the full membership snapshot to every connected
// peer. Always a full snapshot, never a diff, so a peer that missed an
// earlier broadcast converges on the next one. Unauthenticated sessions
// receive the snapshot but never appear in it.
func (s *Server) broadcastState() {
	state := s.channelState()
	s.relay(s.registry.AllAddrs(), &protocol.Packet{ChannelState: state})
}

// channelState projects the persisted channel list and the live registry
// into one snapshot. Channels keep creation order; members sort by name.
func (s *Server) channelState() *protocol.ChannelState {
	channels, err := s.store.NonTx().ListChannels()
	if err != nil {
		slog.Error("list channels for broadcast", "err", err)
	}

	var order []string
	members := make(map[string][]protocol.Member)
	for _, ch := range channels {
		order = append(order, ch.Name)
		members[ch.Name] = nil
	}

	for _, sess := range s.registry.Snapshot() {
		if !sess.Authenticated {
			continue
		}
		if _, ok := members[sess.Channel]; !ok {
			order = append(order, sess.Channel)
		}
		members[sess.Channel] = append(members[sess.Channel], protocol.Member{
			Username:  sess.Username,
			Role:      sess.Role.String(),
			Muted:     sess.Muted,
			Status:    sess.Status,
			NickColor: sess.NickColor,
		})
	}

	state := &protocol.ChannelState{}
	for _, name := range order {
		ms := members[name]
		sort.Slice(ms, func(i, j int) bool { return ms[i].Username < ms[j].Username })
		state.Channels = append(state.Channels, protocol.ChannelMembers{
			Channel: name,
			Members: ms,
		})
	}
	return state
}
