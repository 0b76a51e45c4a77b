// Package protocol defines the SpeakV datagram format: a single tagged
// union of every message exchangeable over the wire, each encoded as one
// self-contained UDP packet.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	// Version is the wire format version, the first byte of every packet.
	Version = 1

	// SampleRate is the audio sample rate in Hz.
	SampleRate = 48000

	// FrameDuration is the audio frame duration in milliseconds.
	FrameDuration = 10

	// FrameSize is the number of samples per audio frame (480 at 48kHz/10ms).
	FrameSize = SampleRate * FrameDuration / 1000

	// MaxPacketSize is the conservative datagram ceiling. Large payloads
	// (files, history) must be pre-chunked by the sender; the transport
	// never fragments.
	MaxPacketSize = 8192

	// ChunkSize is the raw payload size of one file chunk. Chosen so that a
	// FileChunk packet stays well under MaxPacketSize after base64 JSON
	// encoding.
	ChunkSize = 4096
)

var (
	ErrPacketTooShort  = errors.New("protocol: packet too short")
	ErrBadVersion      = errors.New("protocol: unsupported version")
	ErrUnknownKind     = errors.New("protocol: unknown packet kind")
	ErrPacketTooLarge  = errors.New("protocol: packet exceeds datagram ceiling")
	ErrEmptyPacket     = errors.New("protocol: no variant set")
	ErrTruncatedAudio  = errors.New("protocol: truncated audio frame")
	ErrOversizedSender = errors.New("protocol: sender name too long")
)

// Kind tags the active variant of a Packet on the wire.
type Kind byte

const (
	KindAudio Kind = iota + 1
	KindHello
	KindRegister
	KindLogin
	KindAuthResponse
	KindChat
	KindTyping
	KindCreateChannel
	KindJoinChannel
	KindChannelState
	KindPrivateMessage
	KindFileStart
	KindFileChunk
	KindReaction
	KindProfileRequest
	KindProfileSet
	KindProfileData
	KindHistoryRequest
	KindHistoryResponse
	KindAdminAction
	KindPing

	kindEnd // sentinel, keep last
)

// Packet is the discriminated union of all wire messages. Exactly one field
// is non-nil.
type Packet struct {
	Audio           *Audio           `json:"-"` // binary body, never JSON
	Hello           *Hello           `json:"hello,omitempty"`
	Register        *Credentials     `json:"register,omitempty"`
	Login           *Credentials     `json:"login,omitempty"`
	AuthResponse    *AuthResponse    `json:"auth_response,omitempty"`
	Chat            *Chat            `json:"chat,omitempty"`
	Typing          *Typing          `json:"typing,omitempty"`
	CreateChannel   *ChannelRequest  `json:"create_channel,omitempty"`
	JoinChannel     *ChannelRequest  `json:"join_channel,omitempty"`
	ChannelState    *ChannelState    `json:"channel_state,omitempty"`
	PrivateMessage  *PrivateMessage  `json:"private_message,omitempty"`
	FileStart       *FileStart       `json:"file_start,omitempty"`
	FileChunk       *FileChunk       `json:"file_chunk,omitempty"`
	Reaction        *Reaction        `json:"reaction,omitempty"`
	ProfileRequest  *ProfileRequest  `json:"profile_request,omitempty"`
	ProfileSet      *Profile         `json:"profile_set,omitempty"`
	ProfileData     *Profile         `json:"profile_data,omitempty"`
	HistoryRequest  *HistoryRequest  `json:"history_request,omitempty"`
	HistoryResponse *HistoryResponse `json:"history_response,omitempty"`
	AdminAction     *AdminAction     `json:"admin_action,omitempty"`
	Ping            *Ping            `json:"ping,omitempty"`
}

// Audio is one raw frame of float32 samples. Sender is empty on the client
// uplink until the server has no need for it; the server relays frames
// tagged with the authenticated sender name.
type Audio struct {
	Sender  string
	Samples []float32
}

// Hello announces a connecting peer before authentication.
type Hello struct {
	Username string `json:"username"`
}

// Credentials carries a registration or login attempt.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse answers a Register or Login.
type AuthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	NickColor string `json:"nick_color,omitempty"`
}

// Chat is a channel text message. Channel is filled by the server on relay.
type Chat struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Typing signals a typing indicator; never persisted.
type Typing struct {
	Username string `json:"username,omitempty"`
	Active   bool   `json:"active"`
}

// ChannelRequest names a channel to create or join.
type ChannelRequest struct {
	Name string `json:"name"`
}

// Member is one projected session inside a membership snapshot.
type Member struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	Muted     bool   `json:"muted"`
	Status    string `json:"status,omitempty"`
	NickColor string `json:"nick_color,omitempty"`
}

// ChannelMembers pairs a channel with its current authenticated members.
type ChannelMembers struct {
	Channel string   `json:"channel"`
	Members []Member `json:"members"`
}

// ChannelState is the full membership snapshot, not a diff.
type ChannelState struct {
	Channels []ChannelMembers `json:"channels"`
}

// PrivateMessage is a direct message to a named recipient.
type PrivateMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// FileStart announces a chunked transfer and opens reassembly slots.
type FileStart struct {
	ID          string `json:"id"`
	Sender      string `json:"sender,omitempty"`
	Recipient   string `json:"recipient,omitempty"` // direct transfer target
	Channel     string `json:"channel,omitempty"`
	Filename    string `json:"filename"`
	IsImage     bool   `json:"is_image"`
	TotalChunks int    `json:"total_chunks"`
}

// FileChunk carries one slice of a transfer. Index is zero-based.
type FileChunk struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Data  []byte `json:"data"`
}

// Reaction attaches an emoji to a previously seen message id.
type Reaction struct {
	MessageID string `json:"message_id"`
	Username  string `json:"username,omitempty"`
	Emoji     string `json:"emoji"`
}

// ProfileRequest asks for another user's profile.
type ProfileRequest struct {
	Username string `json:"username"`
}

// Profile carries avatar/bio data, either as an update or a response.
type Profile struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
}

// HistoryRequest asks for replay of a channel's history, or of the direct
// history with one peer when WithUser is set.
type HistoryRequest struct {
	Channel  string `json:"channel,omitempty"`
	WithUser string `json:"with_user,omitempty"`
}

// HistoryEntry is one replayed record; exactly one of Chat, Private, File
// is set. Reactions carry every reaction targeting that record.
type HistoryEntry struct {
	Chat      *Chat           `json:"chat,omitempty"`
	Private   *PrivateMessage `json:"private,omitempty"`
	File      *FileStart      `json:"file,omitempty"`
	FileData  []byte          `json:"file_data,omitempty"`
	Reactions []Reaction      `json:"reactions,omitempty"`
}

// HistoryResponse replays prior records in ascending timestamp order. A
// single request may be answered by several response packets; each batch is
// internally ordered and batches arrive oldest-first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	Last    bool           `json:"last"`
}

// AdminActionKind enumerates moderation actions.
type AdminActionKind string

const (
	AdminKick   AdminActionKind = "kick"
	AdminBan    AdminActionKind = "ban"
	AdminMute   AdminActionKind = "mute"
	AdminUnmute AdminActionKind = "unmute"
)

// AdminAction targets a user with a moderation action.
type AdminAction struct {
	Target string          `json:"target"`
	Kind   AdminActionKind `json:"kind"`
}

// Ping refreshes session liveness.
type Ping struct{}

// KindOf returns the wire kind of the active variant, or 0 if none is set.
func (p *Packet) KindOf() Kind {
	switch {
	case p.Audio != nil:
		return KindAudio
	case p.Hello != nil:
		return KindHello
	case p.Register != nil:
		return KindRegister
	case p.Login != nil:
		return KindLogin
	case p.AuthResponse != nil:
		return KindAuthResponse
	case p.Chat != nil:
		return KindChat
	case p.Typing != nil:
		return KindTyping
	case p.CreateChannel != nil:
		return KindCreateChannel
	case p.JoinChannel != nil:
		return KindJoinChannel
	case p.ChannelState != nil:
		return KindChannelState
	case p.PrivateMessage != nil:
		return KindPrivateMessage
	case p.FileStart != nil:
		return KindFileStart
	case p.FileChunk != nil:
		return KindFileChunk
	case p.Reaction != nil:
		return KindReaction
	case p.ProfileRequest != nil:
		return KindProfileRequest
	case p.ProfileSet != nil:
		return KindProfileSet
	case p.ProfileData != nil:
		return KindProfileData
	case p.HistoryRequest != nil:
		return KindHistoryRequest
	case p.HistoryResponse != nil:
		return KindHistoryResponse
	case p.AdminAction != nil:
		return KindAdminAction
	case p.Ping != nil:
		return KindPing
	}
	return 0
}

// Marshal serializes the packet to one self-contained datagram:
// [version(1) | kind(1) | body]. Audio bodies are binary; everything else
// is JSON.
func (p *Packet) Marshal() ([]byte, error) {
	kind := p.KindOf()
	if kind == 0 {
		return nil, ErrEmptyPacket
	}

	if kind == KindAudio {
		return marshalAudio(p.Audio)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(body)+2 > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	buf := make([]byte, 0, len(body)+2)
	buf = append(buf, Version, byte(kind))
	buf = append(buf, body...)
	return buf, nil
}

// Unmarshal parses one datagram. Malformed input yields an error; the
// receiver drops the packet with a diagnostic, never a crash.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < 2 {
		return nil, ErrPacketTooShort
	}
	if data[0] != Version {
		return nil, ErrBadVersion
	}
	kind := Kind(data[1])
	if kind == 0 || kind >= kindEnd {
		return nil, ErrUnknownKind
	}

	if kind == KindAudio {
		audio, err := unmarshalAudio(data[2:])
		if err != nil {
			return nil, err
		}
		return &Packet{Audio: audio}, nil
	}

	pkt := &Packet{}
	if err := json.Unmarshal(data[2:], pkt); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	if got := pkt.KindOf(); got != kind {
		return nil, fmt.Errorf("protocol: kind mismatch: tag %d body %d", kind, got)
	}
	return pkt, nil
}

// Audio body layout: [senderLen u8 | sender | sampleCount u16 BE |
// float32 BE × n]. Explicit and byte-order-portable; the sample block is
// never reinterpreted from raw memory.
func marshalAudio(a *Audio) ([]byte, error) {
	if len(a.Sender) > 255 {
		return nil, ErrOversizedSender
	}
	if len(a.Samples) > math.MaxUint16 {
		return nil, ErrPacketTooLarge
	}
	size := 2 + 1 + len(a.Sender) + 2 + 4*len(a.Samples)
	if size > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Version, byte(KindAudio))
	buf = append(buf, byte(len(a.Sender)))
	buf = append(buf, a.Sender...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.Samples)))
	for _, s := range a.Samples {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(s))
	}
	return buf, nil
}

func unmarshalAudio(body []byte) (*Audio, error) {
	if len(body) < 1 {
		return nil, ErrTruncatedAudio
	}
	senderLen := int(body[0])
	body = body[1:]
	if len(body) < senderLen+2 {
		return nil, ErrTruncatedAudio
	}
	sender := string(body[:senderLen])
	body = body[senderLen:]

	count := int(binary.BigEndian.Uint16(body[:2]))
	body = body[2:]
	if len(body) != 4*count {
		return nil, ErrTruncatedAudio
	}

	samples := make([]float32, count)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.BigEndian.Uint32(body[4*i:]))
	}
	return &Audio{Sender: sender, Samples: samples}, nil
}
