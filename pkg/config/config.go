package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMiner is the miner name used when none is configured.
	DefaultMiner = "miner"
	// DefaultDumpPath is the default ledger dump file.
	DefaultDumpPath = "blockchain_data.json"
	// DefaultStreamingAddress is the default websocket server address.
	DefaultStreamingAddress = "127.0.0.1:8080"
	// DefaultQueryAddress is the default query API address.
	DefaultQueryAddress = "127.0.0.1:3000"
)

// Version is the version of the simulator, set at build time.
var Version string

// Config is the top level struct representing the config for the simulator.
type Config struct {
	SimulationConfiguration  SimulationConfiguration  `yaml:"SimulationConfiguration"`
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		SimulationConfiguration: SimulationConfiguration{
			Difficulty:           2,
			RoundInterval:        2 * time.Second,
			MiningPause:          3 * time.Second,
			MiningPauseThreshold: 100,
			EventBufferSize:      100,
			Traders: []string{
				"Shivraj", "jarvihs", "phantom", "metamask", "larry", "harry", "zain", "watson", "anna",
			},
			Transfers: []Transfer{
				{Amount: 1000, Fee: 10},
				{Amount: 2000, Fee: 20},
				{Amount: 3000, Fee: 30},
			},
		},
		ApplicationConfiguration: ApplicationConfiguration{
			LogLevel: "info",
			DumpPath: DefaultDumpPath,
			Streaming: Streaming{
				BasicService: BasicService{
					Enabled:   true,
					Addresses: []string{DefaultStreamingAddress},
				},
				MaxClients: 64,
			},
			Query: Query{
				BasicService: BasicService{
					Enabled:   true,
					Addresses: []string{DefaultQueryAddress},
				},
				BlockCacheSize: 128,
			},
			Kafka: Kafka{
				Topic:        "nexa-events",
				WriteTimeout: 5 * time.Second,
			},
		},
	}
}

// LoadFile loads config from the provided path. Values missing in the file
// are taken from Default. Empty path means the default config.
func LoadFile(configPath string) (Config, error) {
	config := Default()
	if configPath == "" {
		return config, nil
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(configData))
	decoder.KnownFields(true)
	err = decoder.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("config is invalid: %w", err)
	}
	return config, nil
}

// Validate checks Config for internal consistency.
func (c Config) Validate() error {
	if err := c.SimulationConfiguration.Validate(); err != nil {
		return fmt.Errorf("SimulationConfiguration: %w", err)
	}
	if err := c.ApplicationConfiguration.Validate(); err != nil {
		return fmt.Errorf("ApplicationConfiguration: %w", err)
	}
	return nil
}
