package server

import (
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/model"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

// handleHistoryRequest replays the most recent records of a channel, or of
// the direct conversation with one peer, in ascending timestamp order.
// The reply spans as many packets as needed; the final one carries Last.
func (s *Server) handleHistoryRequest(req *protocol.HistoryRequest, addr *net.UDPAddr) {
	sess, ok := s.authed(addr)
	if !ok {
		return
	}
	s.metrics.HistoryRequests.Add(1)

	var entries []protocol.HistoryEntry
	var err error
	if req.WithUser != "" {
		entries, err = s.directHistory(sess.Username, req.WithUser)
	} else {
		channel := req.Channel
		if channel == "" {
			channel = sess.Channel
		}
		entries, err = s.channelHistory(channel)
	}
	if err != nil {
		slog.Error("load history", "err", err)
		return
	}

	s.sendHistory(addr, entries)
}

type historyRecord struct {
	ts    time.Time
	entry protocol.HistoryEntry
}

func (s *Server) channelHistory(channel string) ([]protocol.HistoryEntry, error) {
	ds := s.store.NonTx()
	chats, err := ds.ListChannelMessages(channel, HistoryWindow)
	if err != nil {
		return nil, err
	}
	files, err := ds.ListChannelFiles(channel, HistoryWindow)
	if err != nil {
		return nil, err
	}

	var records []historyRecord
	var ids []string
	for i := range chats {
		m := &chats[i]
		ids = append(ids, m.ID)
		records = append(records, historyRecord{ts: m.Timestamp, entry: protocol.HistoryEntry{
			Chat: &protocol.Chat{
				ID:        m.ID,
				Username:  m.Username,
				Channel:   m.Channel,
				Body:      m.Body,
				Timestamp: m.Timestamp.UnixMilli(),
			},
		}})
	}
	records = append(records, fileRecords(files, &ids)...)

	return s.finishHistory(records, ids)
}

func (s *Server) directHistory(self, peer string) ([]protocol.HistoryEntry, error) {
	ds := s.store.NonTx()
	msgs, err := ds.ListDirectMessages(self, peer, HistoryWindow)
	if err != nil {
		return nil, err
	}
	files, err := ds.ListDirectFiles(self, peer, HistoryWindow)
	if err != nil {
		return nil, err
	}

	var records []historyRecord
	var ids []string
	for i := range msgs {
		m := &msgs[i]
		ids = append(ids, m.ID)
		records = append(records, historyRecord{ts: m.Timestamp, entry: protocol.HistoryEntry{
			Private: &protocol.PrivateMessage{
				ID:        m.ID,
				Sender:    m.Sender,
				Recipient: m.Recipient,
				Body:      m.Body,
				Timestamp: m.Timestamp.UnixMilli(),
			},
		}})
	}
	records = append(records, fileRecords(files, &ids)...)

	return s.finishHistory(records, ids)
}

func fileRecords(files []model.FileMessage, ids *[]string) []historyRecord {
	var records []historyRecord
	for i := range files {
		f := &files[i]
		*ids = append(*ids, f.ID)
		records = append(records, historyRecord{ts: f.Timestamp, entry: protocol.HistoryEntry{
			File: &protocol.FileStart{
				ID:        f.ID,
				Sender:    f.Sender,
				Recipient: f.Recipient,
				Channel:   f.Channel,
				Filename:  f.Filename,
				IsImage:   f.IsImage,
			},
			FileData: f.Data,
		}})
	}
	return records
}

// finishHistory merges chat and file records into one ascending stream,
// trims it to the replay window, and attaches reactions.
func (s *Server) finishHistory(records []historyRecord, ids []string) ([]protocol.HistoryEntry, error) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].ts.Before(records[j].ts) })
	if len(records) > HistoryWindow {
		records = records[len(records)-HistoryWindow:]
	}

	reactions, err := s.store.NonTx().ListReactionsFor(ids)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[string][]protocol.Reaction)
	for _, r := range reactions {
		byTarget[r.MessageID] = append(byTarget[r.MessageID], protocol.Reaction{
			MessageID: r.MessageID,
			Username:  r.Username,
			Emoji:     r.Emoji,
		})
	}

	entries := make([]protocol.HistoryEntry, 0, len(records))
	for _, rec := range records {
		e := rec.entry
		switch {
		case e.Chat != nil:
			e.Reactions = byTarget[e.Chat.ID]
		case e.Private != nil:
			e.Reactions = byTarget[e.Private.ID]
		case e.File != nil:
			e.Reactions = byTarget[e.File.ID]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// sendHistory batches entries into response packets that each fit one
// datagram. A file whose payload cannot fit even alone is replayed as
// metadata only; the client re-requests the content as a transfer.
func (s *Server) sendHistory(addr *net.UDPAddr, entries []protocol.HistoryEntry) {
	flush := func(batch []protocol.HistoryEntry, last bool) {
		s.send(addr, &protocol.Packet{HistoryResponse: &protocol.HistoryResponse{
			Entries: batch,
			Last:    last,
		}})
	}

	fits := func(batch []protocol.HistoryEntry) bool {
		pkt := &protocol.Packet{HistoryResponse: &protocol.HistoryResponse{Entries: batch}}
		_, err := pkt.Marshal()
		return err == nil
	}

	var batch []protocol.HistoryEntry
	for _, e := range entries {
		if !fits([]protocol.HistoryEntry{e}) {
			e.FileData = nil
		}
		candidate := append(batch, e)
		if fits(candidate) {
			batch = candidate
			continue
		}
		if len(batch) > 0 {
			flush(batch, false)
		}
		batch = []protocol.HistoryEntry{e}
	}
	flush(batch, true)
}
