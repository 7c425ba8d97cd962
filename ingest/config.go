package ingest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteFileConfig is the remote delivery-system section of the config
// file.
type RemoteFileConfig struct {
	BaseURL        string `yaml:"base_url"`
	Workspace      string `yaml:"workspace"`
	Token          string `yaml:"token"`
	ChunkSize      int    `yaml:"chunk_size"`
	Concurrency    int    `yaml:"concurrency"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// FileConfig is the YAML config for the import CLI. CLI flags override
// individual fields.
type FileConfig struct {
	DB        string           `yaml:"db"`
	Workspace string           `yaml:"workspace"`
	BatchSize int              `yaml:"batch_size"`
	Debug     bool             `yaml:"debug"`
	Remote    RemoteFileConfig `yaml:"remote"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// RemoteConfig converts the file section into fetcher settings.
func (c *FileConfig) RemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:     c.Remote.BaseURL,
		Workspace:   c.Remote.Workspace,
		Token:       c.Remote.Token,
		ChunkSize:   c.Remote.ChunkSize,
		Concurrency: c.Remote.Concurrency,
		Timeout:     time.Duration(c.Remote.TimeoutSeconds) * time.Second,
	}
}
