package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Provider represents a content provider from TOML
type Provider struct {
	Name    string   `toml:"name"`
	BaseURL string   `toml:"base_url"`
	Streams []string `toml:"streams"`
}

// ProvidersFile represents the top-level provider registry file
type ProvidersFile struct {
	Providers []Provider `toml:"providers"`
}

func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading providers file: %w", err)
	}

	return ParseProviders(data)
}

func ParseProviders(data []byte) (*ProvidersFile, error) {
	var file ProvidersFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing providers file: %w", err)
	}

	if len(file.Providers) == 0 {
		return nil, errors.New("providers file does not define any providers")
	}

	return &file, nil
}

// Settings holds the runtime settings of the service
type Settings struct {
	// Public base URL of this service, used to build webhook callback URLs
	BaseURL string

	// Cooldown between two fallback polling passes
	PollInterval time.Duration

	// Per-request timeout for provider calls
	RequestTimeout time.Duration

	// Empty means the in-memory store
	DatabaseURL string

	// Empty disables event publishing to NATS
	NATSURL string

	Port int
}

const (
	DefaultPollInterval   = 300 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultPort           = 8000
)

func (s Settings) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.PollInterval)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", s.RequestTimeout)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	return nil
}
