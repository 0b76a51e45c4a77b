package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAudioRoundTrip(t *testing.T) {
	samples := make([]float32, FrameSize)
	for i := range samples {
		samples[i] = float32(i%97)/97.0 - 0.5
	}
	in := &Packet{Audio: &Audio{Sender: "alice", Samples: samples}}

	data, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Audio == nil {
		t.Fatal("Unmarshal: audio variant not set")
	}
	if diff := cmp.Diff(in.Audio, out.Audio); diff != "" {
		t.Errorf("audio mismatch (-want +got):\n%s", diff)
	}
}

func TestAudioEmptySender(t *testing.T) {
	in := &Packet{Audio: &Audio{Samples: []float32{0.25, -0.5}}}
	data, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Audio.Sender != "" || len(out.Audio.Samples) != 2 {
		t.Fatalf("round-trip mismatch: %+v", out.Audio)
	}
}

func TestControlRoundTrip(t *testing.T) {
	tcases := map[string]*Packet{
		"hello":    {Hello: &Hello{Username: "alice"}},
		"register": {Register: &Credentials{Username: "alice", Password: "pw1"}},
		"login":    {Login: &Credentials{Username: "bob", Password: "pw2"}},
		"auth_response": {AuthResponse: &AuthResponse{
			Success: true, Role: "admin", Message: "welcome", NickColor: "#ff0000",
		}},
		"chat": {Chat: &Chat{ID: "m1", Username: "alice", Channel: "Lobby", Body: "hi", Timestamp: 1700000000}},
		"channel_state": {ChannelState: &ChannelState{Channels: []ChannelMembers{
			{Channel: "Lobby", Members: []Member{{Username: "alice", Role: "admin", Muted: false}}},
			{Channel: "Dev", Members: nil},
		}}},
		"file_start": {FileStart: &FileStart{
			ID: "f1", Sender: "alice", Channel: "Lobby", Filename: "pic.png", IsImage: true, TotalChunks: 3,
		}},
		"file_chunk":   {FileChunk: &FileChunk{ID: "f1", Index: 2, Data: []byte{0xde, 0xad, 0xbe, 0xef}}},
		"reaction":     {Reaction: &Reaction{MessageID: "m1", Username: "bob", Emoji: "👍"}},
		"admin_action": {AdminAction: &AdminAction{Target: "bob", Kind: AdminKick}},
		"ping":         {Ping: &Ping{}},
	}

	for name, in := range tcases {
		t.Run(name, func(t *testing.T) {
			data, err := in.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			out, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if out.KindOf() != in.KindOf() {
				t.Fatalf("kind mismatch: want %d got %d", in.KindOf(), out.KindOf())
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("packet mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	tcases := map[string][]byte{
		"empty":             nil,
		"one_byte":          {Version},
		"bad_version":       {99, byte(KindPing), '{', '}'},
		"unknown_kind":      {Version, 250, '{', '}'},
		"zero_kind":         {Version, 0},
		"bad_json":          {Version, byte(KindChat), 'n', 'o', 'p', 'e'},
		"kind_body_clash":   append([]byte{Version, byte(KindChat)}, []byte(`{"ping":{}}`)...),
		"empty_body":        append([]byte{Version, byte(KindChat)}, []byte(`{}`)...),
		"truncated_audio":   {Version, byte(KindAudio), 5, 'a'},
		"audio_short_block": {Version, byte(KindAudio), 0, 0, 2, 1, 2, 3},
	}

	for name, data := range tcases {
		t.Run(name, func(t *testing.T) {
			if pkt, err := Unmarshal(data); err == nil {
				t.Errorf("Unmarshal(%v): expected error, got %+v", data, pkt)
			}
		})
	}
}

func TestMarshalEmptyPacket(t *testing.T) {
	if _, err := (&Packet{}).Marshal(); err != ErrEmptyPacket {
		t.Fatalf("Marshal: want ErrEmptyPacket, got %v", err)
	}
}

func TestMarshalEnforcesCeiling(t *testing.T) {
	big := &Packet{FileChunk: &FileChunk{ID: "f1", Data: make([]byte, MaxPacketSize)}}
	if _, err := big.Marshal(); err != ErrPacketTooLarge {
		t.Fatalf("Marshal: want ErrPacketTooLarge, got %v", err)
	}

	ok := &Packet{FileChunk: &FileChunk{ID: "f1", Data: make([]byte, ChunkSize)}}
	data, err := ok.Marshal()
	if err != nil {
		t.Fatalf("Marshal: chunk-sized payload must fit: %v", err)
	}
	if len(data) > MaxPacketSize {
		t.Fatalf("Marshal: %d bytes exceeds ceiling", len(data))
	}
}
