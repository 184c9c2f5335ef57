package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

type (
	// ApplicationConfiguration contains settings specific to the simulator
	// process.
	ApplicationConfiguration struct {
		LogLevel    string `yaml:"LogLevel"`
		LogPath     string `yaml:"LogPath"`
		LogEncoding string `yaml:"LogEncoding"`
		// DumpPath is the file the ledger is saved to after the simulation,
		// empty value disables the dump.
		DumpPath   string       `yaml:"DumpPath"`
		Streaming  Streaming    `yaml:"Streaming"`
		Query      Query        `yaml:"Query"`
		Prometheus BasicService `yaml:"Prometheus"`
		Pprof      BasicService `yaml:"Pprof"`
		Kafka      Kafka        `yaml:"Kafka"`
	}

	// Streaming is the websocket event streaming service configuration.
	Streaming struct {
		BasicService `yaml:",inline"`
		// MaxClients is the maximum number of simultaneously attached
		// sessions.
		MaxClients int `yaml:"MaxClients"`
		// EnableCORSWorkaround allows connections from any origin.
		EnableCORSWorkaround bool `yaml:"EnableCORSWorkaround"`
	}

	// Query is the read-only HTTP API configuration.
	Query struct {
		BasicService         `yaml:",inline"`
		EnableCORSWorkaround bool `yaml:"EnableCORSWorkaround"`
		// BlockCacheSize is the number of encoded blocks kept in memory.
		BlockCacheSize int `yaml:"BlockCacheSize"`
	}

	// Kafka configures event relaying to a Kafka topic.
	Kafka struct {
		Enabled      bool          `yaml:"Enabled"`
		Brokers      []string      `yaml:"Brokers"`
		Topic        string        `yaml:"Topic"`
		WriteTimeout time.Duration `yaml:"WriteTimeout"`
	}
)

// Validate checks ApplicationConfiguration for internal consistency.
func (a ApplicationConfiguration) Validate() error {
	if a.LogLevel != "" {
		if _, err := zapcore.ParseLevel(a.LogLevel); err != nil {
			return fmt.Errorf("LogLevel: %w", err)
		}
	}
	switch a.LogEncoding {
	case "", "console", "json":
	default:
		return fmt.Errorf("LogEncoding: unknown encoding %q", a.LogEncoding)
	}
	if err := a.Streaming.Validate(); err != nil {
		return fmt.Errorf("Streaming: %w", err)
	}
	if a.Streaming.MaxClients < 0 {
		return fmt.Errorf("Streaming: negative MaxClients %d", a.Streaming.MaxClients)
	}
	if err := a.Query.Validate(); err != nil {
		return fmt.Errorf("Query: %w", err)
	}
	if a.Query.BlockCacheSize < 0 {
		return fmt.Errorf("Query: negative BlockCacheSize %d", a.Query.BlockCacheSize)
	}
	if err := a.Prometheus.Validate(); err != nil {
		return fmt.Errorf("Prometheus: %w", err)
	}
	if err := a.Pprof.Validate(); err != nil {
		return fmt.Errorf("Pprof: %w", err)
	}
	if a.Kafka.Enabled {
		if len(a.Kafka.Brokers) == 0 {
			return errors.New("Kafka: no Brokers specified")
		}
		if a.Kafka.Topic == "" {
			return errors.New("Kafka: no Topic specified")
		}
	}
	return nil
}
