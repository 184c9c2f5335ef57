package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2, cfg.SimulationConfiguration.Difficulty)
	require.Equal(t, 100, cfg.SimulationConfiguration.EventBufferSize)
	require.Equal(t, 9, cfg.SimulationConfiguration.RoundCount())
	require.Equal(t, []string{DefaultStreamingAddress}, cfg.ApplicationConfiguration.Streaming.Addresses)
	require.Equal(t, []string{DefaultQueryAddress}, cfg.ApplicationConfiguration.Query.Addresses)
	require.Equal(t, DefaultDumpPath, cfg.ApplicationConfiguration.DumpPath)
}

func TestLoadFile(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := LoadFile("")
		require.NoError(t, err)
		require.Equal(t, Default(), cfg)
	})

	t.Run("sample config", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join("..", "..", "config", "nexa.yml"))
		require.NoError(t, err)
		require.Equal(t, Default().SimulationConfiguration, cfg.SimulationConfiguration)
		require.True(t, cfg.ApplicationConfiguration.Streaming.Enabled)
		require.False(t, cfg.ApplicationConfiguration.Kafka.Enabled)
		require.Equal(t, 5*time.Second, cfg.ApplicationConfiguration.Kafka.WriteTimeout)
	})

	t.Run("partial", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join("testdata", "partial.yml"))
		require.NoError(t, err)
		sim := cfg.SimulationConfiguration
		require.Equal(t, "alice", sim.Miner)
		require.Equal(t, 1, sim.Difficulty)
		require.Equal(t, 3, sim.RoundCount())
		require.Equal(t, []string{"bob", "carol"}, sim.Traders)
		// Defaults are kept for missing values.
		require.Equal(t, Default().SimulationConfiguration.Transfers, sim.Transfers)
		require.Equal(t, 2*time.Second, sim.RoundInterval)
		require.Equal(t, "debug", cfg.ApplicationConfiguration.LogLevel)
		require.Equal(t, []string{":0"}, cfg.ApplicationConfiguration.Query.Addresses)
		require.Equal(t, 128, cfg.ApplicationConfiguration.Query.BlockCacheSize)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yml")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.Equal(t, Default(), cfg)
	})

	for name, path := range map[string]string{
		"missing":       filepath.Join("testdata", "nonexistent.yml"),
		"unknown field": filepath.Join("testdata", "unknown_field.yml"),
		"invalid":       filepath.Join("testdata", "invalid.yml"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(path)
			require.Error(t, err)
		})
	}
}

func TestSimulationConfigurationValidate(t *testing.T) {
	for name, mod := range map[string]func(*SimulationConfiguration){
		"negative difficulty": func(s *SimulationConfiguration) { s.Difficulty = -1 },
		"huge difficulty":     func(s *SimulationConfiguration) { s.Difficulty = MaxDifficulty + 1 },
		"negative rounds":     func(s *SimulationConfiguration) { s.Rounds = -1 },
		"negative interval":   func(s *SimulationConfiguration) { s.RoundInterval = -time.Second },
		"zero buffer":         func(s *SimulationConfiguration) { s.EventBufferSize = 0 },
		"no traders":          func(s *SimulationConfiguration) { s.Traders = nil },
		"empty trader":        func(s *SimulationConfiguration) { s.Traders = []string{"a", ""} },
		"no transfers":        func(s *SimulationConfiguration) { s.Transfers = nil },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default().SimulationConfiguration
			mod(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestApplicationConfigurationValidate(t *testing.T) {
	for name, mod := range map[string]func(*ApplicationConfiguration){
		"bad log level":       func(a *ApplicationConfiguration) { a.LogLevel = "loud" },
		"bad log encoding":    func(a *ApplicationConfiguration) { a.LogEncoding = "xml" },
		"negative clients":    func(a *ApplicationConfiguration) { a.Streaming.MaxClients = -1 },
		"negative cache":      func(a *ApplicationConfiguration) { a.Query.BlockCacheSize = -1 },
		"streaming address":   func(a *ApplicationConfiguration) { a.Streaming.Addresses = []string{"localhost"} },
		"prometheus no addrs": func(a *ApplicationConfiguration) { a.Prometheus.Enabled = true },
		"kafka no brokers":    func(a *ApplicationConfiguration) { a.Kafka.Enabled = true },
		"kafka no topic": func(a *ApplicationConfiguration) {
			a.Kafka = Kafka{Enabled: true, Brokers: []string{"localhost:9092"}}
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default().ApplicationConfiguration
			mod(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
