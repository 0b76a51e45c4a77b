package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

var (
	preInitOnce   sync.Once
	preInitDone   = make(chan struct{})
	initRequested atomic.Bool
	initOK        bool
	shutdownOnce  sync.Once
)

// PreInitAudio starts PortAudio initialization in the background so the
// slow device enumeration on some platforms overlaps with startup.
// NewCaptureDevice waits for it before opening a stream. Pair with
// Shutdown on exit.
func PreInitAudio() {
	preInitOnce.Do(func() {
		initRequested.Store(true)
		go func() {
			if err := portaudio.Initialize(); err != nil {
				slog.Error("portaudio init failed", "err", err)
			} else {
				initOK = true
			}
			close(preInitDone)
		}()
	})
}

// WaitPreInit blocks until the background PreInitAudio completes.
// If PreInitAudio was never called, it triggers it now (blocking).
func WaitPreInit() {
	PreInitAudio()
	<-preInitDone
}

// Shutdown releases the library handle acquired by PreInitAudio. No-op
// when audio was never initialized; safe to call more than once.
func Shutdown() {
	if !initRequested.Load() {
		return
	}
	shutdownOnce.Do(func() {
		<-preInitDone
		if !initOK {
			return
		}
		if err := portaudio.Terminate(); err != nil {
			slog.Debug("portaudio terminate", "err", err)
		}
	})
}

// DeviceEntry holds basic info about an audio device.
type DeviceEntry struct {
	Name       string
	MaxInputs  int
	MaxOutputs int
	IsDefault  bool
}

// ListInputDevices returns all available audio input devices.
func ListInputDevices() ([]DeviceEntry, error) {
	return listDevices(true)
}

// ListOutputDevices returns all available audio output devices.
func ListOutputDevices() ([]DeviceEntry, error) {
	return listDevices(false)
}

func listDevices(input bool) ([]DeviceEntry, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer func() { _ = portaudio.Terminate() }()

	var def *portaudio.DeviceInfo
	if input {
		def, _ = portaudio.DefaultInputDevice()
	} else {
		def, _ = portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var result []DeviceEntry
	for _, d := range devices {
		channels := d.MaxOutputChannels
		if input {
			channels = d.MaxInputChannels
		}
		if channels == 0 {
			continue
		}
		result = append(result, DeviceEntry{
			Name:       d.Name,
			MaxInputs:  d.MaxInputChannels,
			MaxOutputs: d.MaxOutputChannels,
			IsDefault:  def != nil && d.Name == def.Name,
		})
	}
	return result, nil
}

// FindDevice returns the *portaudio.DeviceInfo matching by name, or nil.
func FindDevice(name string) *portaudio.DeviceInfo {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil
	}
	for _, d := range devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}
