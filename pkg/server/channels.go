package server

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RomaniukOleksii/SpeakV/pkg/datastore"
	"github.com/RomaniukOleksii/SpeakV/pkg/model"
)

// ChannelsConfig is the top-level YAML config for bootstrap channels.
type ChannelsConfig struct {
	Channels []string `yaml:"channels"`
}

// LoadChannelsFromYAML reads a channels YAML file and creates any missing
// channels in the store.
func LoadChannelsFromYAML(path string, ds datastore.DataStore) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read channels config: %w", err)
	}
	return ImportChannelsFromYAML(data, ds)
}

// ImportChannelsFromYAML parses YAML data and creates any missing channels.
func ImportChannelsFromYAML(data []byte, ds datastore.DataStore) error {
	var cfg ChannelsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse channels config: %w", err)
	}

	created := 0
	for _, name := range cfg.Channels {
		isNew, err := ds.CreateChannel(&model.Channel{Name: name})
		if err != nil {
			slog.Error("failed to create channel from config", "name", name, "err", err)
			continue
		}
		if isNew {
			created++
		}
	}

	slog.Info("imported channels from YAML", "listed", len(cfg.Channels), "created", created)
	return nil
}

// ExportChannelsYAML exports all channels as YAML.
func ExportChannelsYAML(ds datastore.DataStore) ([]byte, error) {
	channels, err := ds.ListChannels()
	if err != nil {
		return nil, err
	}

	cfg := ChannelsConfig{}
	for _, ch := range channels {
		cfg.Channels = append(cfg.Channels, ch.Name)
	}
	return yaml.Marshal(&cfg)
}
