package client_test

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/RomaniukOleksii/SpeakV/pkg/audio"
	"github.com/RomaniukOleksii/SpeakV/pkg/client"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

func TestSplitChunks(t *testing.T) {
	tcases := map[string]struct {
		size int
		want int
	}{
		"empty":          {size: 0, want: 1},
		"single_byte":    {size: 1, want: 1},
		"exactly_one":    {size: protocol.ChunkSize, want: 1},
		"one_over":       {size: protocol.ChunkSize + 1, want: 2},
		"exactly_two":    {size: 2 * protocol.ChunkSize, want: 2},
		"two_and_change": {size: 2*protocol.ChunkSize + 7, want: 3},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i)
			}
			chunks := client.SplitChunks(data)
			if len(chunks) != tc.want {
				t.Fatalf("got %d chunks, want %d", len(chunks), tc.want)
			}
			if !bytes.Equal(bytes.Join(chunks, nil), data) {
				t.Fatal("joined chunks differ from input")
			}
			for i, c := range chunks {
				if len(c) > protocol.ChunkSize {
					t.Fatalf("chunk %d oversized: %d", i, len(c))
				}
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakv.yaml")

	want := client.Settings{
		DisplayName:  "alice",
		ServerAddr:   "10.0.0.5:9600",
		VADThreshold: 0.07,
		InputDevice:  "USB Mic",
		OutputDevice: "Headphones",
		SelfListen:   true,
	}
	if err := want.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	got := client.LoadSettingsFrom(path)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsMissingFileYieldsDefaults(t *testing.T) {
	got := client.LoadSettingsFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if diff := cmp.Diff(client.DefaultSettings(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

// fakeServer is a loopback UDP listener standing in for the relay.
type fakeServer struct {
	t    *testing.T
	conn *net.UDPConn
	peer *net.UDPAddr
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeServer{t: t, conn: conn}
}

func (f *fakeServer) addr() string {
	return f.conn.LocalAddr().String()
}

// recv waits for the next datagram and decodes it, remembering the
// client address for later sends.
func (f *fakeServer) recv(timeout time.Duration) *protocol.Packet {
	f.t.Helper()
	buf := make([]byte, protocol.MaxPacketSize)
	_ = f.conn.SetReadDeadline(time.Now().Add(timeout))
	n, addr, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		f.t.Fatalf("server read: %v", err)
	}
	f.peer = addr
	pkt, err := protocol.Unmarshal(buf[:n])
	if err != nil {
		f.t.Fatalf("server decode: %v", err)
	}
	return pkt
}

// recvKind discards datagrams until one of the wanted kind arrives.
func (f *fakeServer) recvKind(kind protocol.Kind, timeout time.Duration) *protocol.Packet {
	f.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt := f.recv(time.Until(deadline))
		if pkt.KindOf() == kind {
			return pkt
		}
	}
	f.t.Fatalf("no %v packet within %v", kind, timeout)
	return nil
}

func (f *fakeServer) send(pkt *protocol.Packet) {
	f.t.Helper()
	if f.peer == nil {
		f.t.Fatal("no client address yet")
	}
	data, err := pkt.Marshal()
	if err != nil {
		f.t.Fatal(err)
	}
	if _, err := f.conn.WriteToUDP(data, f.peer); err != nil {
		f.t.Fatal(err)
	}
}

func startSession(t *testing.T, srv *fakeServer, pipeline *audio.Pipeline) *client.Session {
	t.Helper()
	sess, err := client.Dial(srv.addr(), pipeline)
	if err != nil {
		t.Fatal(err)
	}
	go sess.Run()
	t.Cleanup(sess.Stop)
	return sess
}

func TestSessionDeliversQueuedIntents(t *testing.T) {
	srv := newFakeServer(t)
	sess := startSession(t, srv, nil)

	sess.Hello("alice")
	pkt := srv.recvKind(protocol.KindHello, 2*time.Second)
	if pkt.Hello.Username != "alice" {
		t.Fatalf("hello username = %q", pkt.Hello.Username)
	}

	id := sess.SendChat("hi there")
	pkt = srv.recvKind(protocol.KindChat, 2*time.Second)
	if pkt.Chat.ID != id || pkt.Chat.Body != "hi there" {
		t.Fatalf("chat = %+v, want id %q body %q", pkt.Chat, id, "hi there")
	}
}

func TestSessionTransmitGate(t *testing.T) {
	srv := newFakeServer(t)
	pipeline := audio.NewPipeline(audio.DefaultRingCapacity)
	sess := startSession(t, srv, pipeline)

	sess.Hello("alice")
	srv.recvKind(protocol.KindHello, 2*time.Second)

	// Transmit off: the buffered frame is consumed but never sent.
	pipeline.CaptureCallback(make([]float32, protocol.FrameSize))
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && pipeline.Buffered() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := pipeline.Buffered(); got != 0 {
		t.Fatalf("buffered = %d after discard window, want 0", got)
	}

	sess.SetTransmit(true)
	frame := make([]float32, protocol.FrameSize)
	frame[0] = 0.5
	pipeline.CaptureCallback(frame)

	pkt := srv.recvKind(protocol.KindAudio, 2*time.Second)
	if len(pkt.Audio.Samples) != protocol.FrameSize {
		t.Fatalf("frame size = %d, want %d", len(pkt.Audio.Samples), protocol.FrameSize)
	}
	if pkt.Audio.Samples[0] != 0.5 {
		t.Fatalf("sample[0] = %v, want 0.5", pkt.Audio.Samples[0])
	}
}

func TestSessionReceiveAudioAppliesGainAndSpeaking(t *testing.T) {
	srv := newFakeServer(t)
	pipeline := audio.NewPipeline(audio.DefaultRingCapacity)
	sess := startSession(t, srv, pipeline)

	sess.Hello("alice")
	srv.recvKind(protocol.KindHello, 2*time.Second)

	sess.SetGain("bob", 0.5)
	samples := make([]float32, protocol.FrameSize)
	for i := range samples {
		samples[i] = 0.8
	}
	srv.send(&protocol.Packet{Audio: &protocol.Audio{Sender: "bob", Samples: samples}})

	out := make([]float32, protocol.FrameSize)
	heard := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pipeline.PlaybackCallback(out)
		if out[0] != 0 {
			heard = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !heard {
		t.Fatal("no remote audio reached playback")
	}
	if out[0] < 0.39 || out[0] > 0.41 {
		t.Fatalf("gained sample = %v, want ~0.4", out[0])
	}

	speakers := sess.Speaking(5 * time.Second)
	if len(speakers) != 1 || speakers[0] != "bob" {
		t.Fatalf("speaking = %v, want [bob]", speakers)
	}
	if got := sess.Speaking(0); len(got) != 0 {
		t.Fatalf("zero-window speaking = %v, want empty", got)
	}
}

func TestSessionReassemblesIncomingFile(t *testing.T) {
	srv := newFakeServer(t)
	sess := startSession(t, srv, nil)

	sess.Hello("alice")
	srv.recvKind(protocol.KindHello, 2*time.Second)

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	srv.send(&protocol.Packet{FileStart: &protocol.FileStart{
		ID:          "xfer-1",
		Sender:      "bob",
		Channel:     "Lobby",
		Filename:    "notes.txt",
		TotalChunks: len(parts),
	}})
	// Out of order with a duplicate.
	for _, i := range []int{2, 0, 0, 1} {
		srv.send(&protocol.Packet{FileChunk: &protocol.FileChunk{ID: "xfer-1", Index: i, Data: parts[i]}})
	}

	select {
	case rf := <-sess.Files():
		if rf.Sender != "bob" || rf.Filename != "notes.txt" {
			t.Fatalf("file meta = %+v", rf)
		}
		if !bytes.Equal(rf.Data, bytes.Join(parts, nil)) {
			t.Fatalf("data = %q", rf.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never completed")
	}

	// The announcement itself is surfaced as an event.
	select {
	case pkt := <-sess.Inbox():
		if pkt.KindOf() != protocol.KindFileStart || pkt.FileStart.ID != "xfer-1" {
			t.Fatalf("inbox packet = %v", pkt.KindOf())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file start never delivered")
	}
}

func TestSessionStopClosesSocket(t *testing.T) {
	srv := newFakeServer(t)
	sess := startSession(t, srv, nil)

	sess.Hello("alice")
	srv.recvKind(protocol.KindHello, 2*time.Second)

	sess.Stop()
	sess.Stop() // idempotent

	// After a few loop intervals no further traffic should appear.
	time.Sleep(100 * time.Millisecond)
	sess.SendChat("into the void")
	buf := make([]byte, protocol.MaxPacketSize)
	_ = srv.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if n, _, err := srv.conn.ReadFromUDP(buf); err == nil {
		pkt, derr := protocol.Unmarshal(buf[:n])
		if derr == nil && pkt.KindOf() == protocol.KindChat {
			t.Fatal("chat sent after stop")
		}
	}
}

func TestSendFileLargeTransferDeliversEveryChunk(t *testing.T) {
	srv := newFakeServer(t)
	sess := startSession(t, srv, nil)

	sess.Hello("alice")
	srv.recvKind(protocol.KindHello, 2*time.Second)

	const chunkCount = 200
	data := make([]byte, chunkCount*protocol.ChunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	id := sess.SendFile("big.bin", data, false, "")

	start := srv.recvKind(protocol.KindFileStart, 2*time.Second)
	if start.FileStart.ID != id || start.FileStart.TotalChunks != chunkCount {
		t.Fatalf("file start = %+v, want id %q with %d chunks", start.FileStart, id, chunkCount)
	}

	seen := make(map[int]bool)
	deadline := time.Now().Add(10 * time.Second)
	for len(seen) < chunkCount && time.Now().Before(deadline) {
		pkt := srv.recv(time.Until(deadline))
		if pkt.KindOf() != protocol.KindFileChunk || pkt.FileChunk.ID != id {
			continue
		}
		fc := pkt.FileChunk
		if len(fc.Data) != protocol.ChunkSize {
			t.Fatalf("chunk %d size = %d", fc.Index, len(fc.Data))
		}
		seen[fc.Index] = true
	}
	if len(seen) != chunkCount {
		t.Fatalf("received %d of %d chunks", len(seen), chunkCount)
	}
}
