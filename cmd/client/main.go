package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/audio"
	"github.com/RomaniukOleksii/SpeakV/pkg/client"
	"github.com/RomaniukOleksii/SpeakV/pkg/logging"
	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
	"github.com/RomaniukOleksii/SpeakV/pkg/version"
)

const speakingWindow = 500 * time.Millisecond

func main() {
	settings := client.LoadSettings()

	addr := flag.String("server", settings.ServerAddr, "server address")
	name := flag.String("name", settings.DisplayName, "display name")
	noAudio := flag.Bool("no-audio", false, "run without audio devices (text only)")
	listDevices := flag.Bool("list-devices", false, "list audio devices and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := "warn"
	if v := os.Getenv("SPEAKV_LOG_LEVEL"); v != "" {
		level = v
	}
	_ = logging.Setup(logging.Options{Level: level, Format: "text", Output: os.Stderr})

	if *listDevices {
		printDevices()
		return
	}

	var pipeline *audio.Pipeline
	var gate *audio.Gate
	stopAudio := make(chan struct{})
	if !*noAudio {
		pipeline = audio.NewPipeline(audio.DefaultRingCapacity)
		pipeline.SetSelfListen(settings.SelfListen)
		gate = audio.NewGate(settings.VADThreshold, 25)
		if err := startAudio(pipeline, settings, stopAudio); err != nil {
			fmt.Fprintf(os.Stderr, "audio unavailable, continuing text-only: %v\n", err)
			pipeline = nil
			gate = nil
		}
	}

	sess, err := client.Dial(*addr, pipeline)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	go sess.Run()
	defer func() {
		close(stopAudio)
		sess.Stop()
		audio.Shutdown()
	}()

	if *name != "" {
		sess.Hello(*name)
	}

	go printEvents(sess)
	if gate != nil {
		go driveGate(sess, pipeline, gate, stopAudio)
	}

	fmt.Println("speakv", version.String(), "- type /help for commands")
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 64*1024)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.SendChat(line)
			continue
		}
		if quit := runCommand(sess, pipeline, gate, &settings, line); quit {
			break
		}
	}

	settings.ServerAddr = *addr
	if *name != "" {
		settings.DisplayName = *name
	}
	if err := settings.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "save settings: %v\n", err)
	}
}

func runCommand(sess *client.Session, pipeline *audio.Pipeline, gate *audio.Gate, settings *client.Settings, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/help":
		printHelp()
	case "/register":
		if len(args) == 2 {
			sess.Hello(args[0])
			sess.Register(args[0], args[1])
		} else {
			fmt.Println("usage: /register <name> <password>")
		}
	case "/login":
		if len(args) == 2 {
			sess.Hello(args[0])
			sess.Login(args[0], args[1])
		} else {
			fmt.Println("usage: /login <name> <password>")
		}
	case "/join":
		if len(args) == 1 {
			sess.JoinChannel(args[0])
		}
	case "/create":
		if len(args) == 1 {
			sess.CreateChannel(args[0])
		}
	case "/msg":
		if len(args) >= 2 {
			sess.SendPrivate(args[0], strings.TrimSpace(strings.TrimPrefix(rest, args[0])))
		}
	case "/react":
		if len(args) == 2 {
			sess.SendReaction(args[0], args[1])
		}
	case "/file":
		if len(args) >= 1 {
			sendFile(sess, args)
		}
	case "/history":
		switch {
		case len(args) == 0:
			sess.RequestHistory("", "")
		case strings.HasPrefix(args[0], "@"):
			sess.RequestHistory("", strings.TrimPrefix(args[0], "@"))
		default:
			sess.RequestHistory(args[0], "")
		}
	case "/profile":
		if len(args) == 1 {
			sess.RequestProfile(args[0])
		}
	case "/setprofile":
		if len(args) >= 1 {
			bio := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
			sess.SetProfile(args[0], bio)
		}
	case "/kick", "/ban", "/mute", "/unmute":
		if len(args) == 1 {
			sess.SendAdminAction(args[0], protocol.AdminActionKind(strings.TrimPrefix(cmd, "/")))
		}
	case "/gain":
		if len(args) == 2 {
			if g, err := strconv.ParseFloat(args[1], 32); err == nil {
				sess.SetGain(args[0], float32(g))
			}
		}
	case "/vad":
		if gate != nil && len(args) == 1 {
			if th, err := strconv.ParseFloat(args[0], 64); err == nil {
				gate.SetThreshold(th)
				settings.VADThreshold = th
			}
		}
	case "/selflisten":
		if pipeline != nil {
			on := !pipeline.SelfListen()
			pipeline.SetSelfListen(on)
			settings.SelfListen = on
			fmt.Println("self listen:", on)
		}
	case "/deaf":
		if pipeline != nil {
			pipeline.SetOutputMuted(!pipeline.OutputMuted())
			fmt.Println("output muted:", pipeline.OutputMuted())
		}
	case "/silence":
		if pipeline != nil {
			pipeline.SetInputMuted(!pipeline.InputMuted())
			fmt.Println("input muted:", pipeline.InputMuted())
		}
	case "/who":
		fmt.Println("speaking:", sess.Speaking(speakingWindow))
	case "/quit":
		return true
	default:
		fmt.Println("unknown command:", cmd)
	}
	return false
}

func sendFile(sess *client.Session, args []string) {
	path := args[0]
	recipient := ""
	if len(args) > 1 {
		recipient = args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read file: %v\n", err)
		return
	}
	name := filepath.Base(path)
	isImage := false
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		isImage = true
	}
	id := sess.SendFile(name, data, isImage, recipient)
	fmt.Printf("sending %s (%d bytes) as %s\n", name, len(data), id)
}

// driveGate feeds capture loudness through the voice gate and opens
// transmission while speech is detected.
func driveGate(sess *client.Session, pipeline *audio.Pipeline, gate *audio.Gate, stop <-chan struct{}) {
	ticker := time.NewTicker(protocol.FrameDuration * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sess.SetTransmit(gate.Process(pipeline.Loudness()))
		}
	}
}

func startAudio(pipeline *audio.Pipeline, settings client.Settings, stop <-chan struct{}) error {
	audio.PreInitAudio()

	capture, err := audio.NewCaptureDevice(protocol.SampleRate, protocol.FrameSize, settings.InputDevice)
	if err != nil {
		return err
	}
	if err := capture.Start(); err != nil {
		return err
	}
	playback, err := audio.NewPlaybackDevice(protocol.SampleRate, protocol.FrameSize, settings.OutputDevice)
	if err != nil {
		_ = capture.Stop()
		return err
	}
	if err := playback.Start(); err != nil {
		_ = capture.Stop()
		return err
	}

	go func() {
		defer func() { _ = capture.Stop() }()
		for {
			select {
			case <-stop:
				return
			default:
			}
			frame, err := capture.ReadFrame()
			if err != nil {
				return
			}
			pipeline.CaptureCallback(frame)
		}
	}()
	go func() {
		defer func() { _ = playback.Stop() }()
		playback.Pump(pipeline.PlaybackCallback, stop)
	}()
	return nil
}

func printEvents(sess *client.Session) {
	for {
		select {
		case pkt, ok := <-sess.Inbox():
			if !ok {
				return
			}
			printPacket(pkt)
		case rf, ok := <-sess.Files():
			if !ok {
				return
			}
			saveFile(rf)
		}
	}
}

func printPacket(pkt *protocol.Packet) {
	switch pkt.KindOf() {
	case protocol.KindAuthResponse:
		r := pkt.AuthResponse
		fmt.Printf("* auth: %s (success=%v)\n", r.Message, r.Success)
	case protocol.KindChat:
		c := pkt.Chat
		fmt.Printf("[%s] <%s> %s\n", c.Channel, c.Username, c.Body)
	case protocol.KindPrivateMessage:
		m := pkt.PrivateMessage
		fmt.Printf("(dm) <%s> %s\n", m.Sender, m.Body)
	case protocol.KindTyping:
		if pkt.Typing.Active {
			fmt.Printf("* %s is typing\n", pkt.Typing.Username)
		}
	case protocol.KindChannelState:
		for _, ch := range pkt.ChannelState.Channels {
			names := make([]string, 0, len(ch.Members))
			for _, m := range ch.Members {
				n := m.Username
				if m.Muted {
					n += " (muted)"
				}
				names = append(names, n)
			}
			fmt.Printf("# %s: %s\n", ch.Channel, strings.Join(names, ", "))
		}
	case protocol.KindReaction:
		r := pkt.Reaction
		fmt.Printf("* %s reacted %s to %s\n", r.Username, r.Emoji, r.MessageID)
	case protocol.KindProfileData:
		p := pkt.ProfileData
		fmt.Printf("* profile %s: avatar=%s bio=%s\n", p.Username, p.AvatarURL, p.Bio)
	case protocol.KindFileStart:
		f := pkt.FileStart
		fmt.Printf("* incoming file %s from %s (%d chunks)\n", f.Filename, f.Sender, f.TotalChunks)
	case protocol.KindHistoryResponse:
		printHistory(pkt.HistoryResponse)
	}
}

func printHistory(h *protocol.HistoryResponse) {
	for _, e := range h.Entries {
		switch {
		case e.Chat != nil:
			fmt.Printf("  %s <%s> %s %s\n", formatTS(e.Chat.Timestamp), e.Chat.Username, e.Chat.Body, formatReactions(e.Reactions))
		case e.Private != nil:
			fmt.Printf("  %s (dm) <%s> %s %s\n", formatTS(e.Private.Timestamp), e.Private.Sender, e.Private.Body, formatReactions(e.Reactions))
		case e.File != nil:
			fmt.Printf("  [file] %s from %s (%d bytes)\n", e.File.Filename, e.File.Sender, len(e.FileData))
		}
	}
	if h.Last {
		fmt.Println("  -- end of history --")
	}
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04")
}

func formatReactions(rs []protocol.Reaction) string {
	if len(rs) == 0 {
		return ""
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.Emoji
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func saveFile(rf *client.ReceivedFile) {
	dir := filepath.Join(os.TempDir(), "speakv-files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "save file: %v\n", err)
		return
	}
	path := filepath.Join(dir, filepath.Base(rf.Filename))
	if err := os.WriteFile(path, rf.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "save file: %v\n", err)
		return
	}
	fmt.Printf("* saved %s from %s to %s\n", rf.Filename, rf.Sender, path)
}

func printDevices() {
	audio.WaitPreInit()
	defer audio.Shutdown()
	ins, err := audio.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list inputs: %v\n", err)
	}
	outs, err := audio.ListOutputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list outputs: %v\n", err)
	}
	fmt.Println("input devices:")
	for _, d := range ins {
		fmt.Println("  ", d.Name)
	}
	fmt.Println("output devices:")
	for _, d := range outs {
		fmt.Println("  ", d.Name)
	}
}

func printHelp() {
	fmt.Print(`commands:
  /register <name> <pw>   create an account
  /login <name> <pw>      sign in
  /join <channel>         switch channel
  /create <channel>       create a channel
  /msg <user> <text>      direct message
  /react <id> <emoji>     react to a message
  /file <path> [user]     send a file (to channel, or direct)
  /history [chan|@user]   replay recent messages
  /profile <user>         show a profile
  /setprofile <url> <bio> update your profile
  /kick /ban /mute /unmute <user>
  /gain <user> <0..2>     per-speaker volume
  /vad <threshold>        voice gate sensitivity
  /selflisten /deaf /silence
  /who                    who is speaking now
  /quit
`)
}
