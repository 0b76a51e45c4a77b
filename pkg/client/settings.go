package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the client preferences persisted between runs.
type Settings struct {
	DisplayName  string  `yaml:"display_name"`
	ServerAddr   string  `yaml:"server_addr"`
	VADThreshold float64 `yaml:"vad_threshold"`
	InputDevice  string  `yaml:"input_device"`
	OutputDevice string  `yaml:"output_device"`
	SelfListen   bool    `yaml:"self_listen"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() Settings {
	return Settings{
		ServerAddr:   "127.0.0.1:9600",
		VADThreshold: 0.02,
	}
}

// settingsPath puts the settings file next to the executable, falling
// back to the working directory.
func settingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "speakv.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "speakv.yaml")
}

// LoadSettings reads the persisted settings; any failure yields defaults.
func LoadSettings() Settings {
	return LoadSettingsFrom(settingsPath())
}

// LoadSettingsFrom reads settings from path, defaults on any error.
func LoadSettingsFrom(path string) Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings()
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings()
	}
	return s
}

// Save writes the settings next to the executable.
func (s Settings) Save() error {
	return s.SaveTo(settingsPath())
}

// SaveTo writes the settings as YAML to path.
func (s Settings) SaveTo(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("client: marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("client: write settings: %w", err)
	}
	return nil
}
