package config

import (
	"errors"
	"fmt"
	"time"
)

// MaxDifficulty is the maximum supported mining difficulty. Anything above
// it can't be mined in a reasonable time.
const MaxDifficulty = 8

type (
	// SimulationConfiguration describes simulated chain activity.
	SimulationConfiguration struct {
		// Miner is the name reported in mining events, it's asked for
		// interactively if not set.
		Miner string `yaml:"Miner"`
		// Difficulty is the number of leading zero hex characters in block
		// hashes.
		Difficulty int `yaml:"Difficulty"`
		// Rounds is the number of blocks to mine, zero means one per trader.
		Rounds int `yaml:"Rounds"`
		// RoundInterval is the delay between rounds.
		RoundInterval time.Duration `yaml:"RoundInterval"`
		// MiningPause is the delay after mining that took more than
		// MiningPauseThreshold iterations.
		MiningPause          time.Duration `yaml:"MiningPause"`
		MiningPauseThreshold uint64        `yaml:"MiningPauseThreshold"`
		// EventBufferSize is the number of events retained for lagging
		// subscribers.
		EventBufferSize int `yaml:"EventBufferSize"`
		// Traders take part in transfers in the given order.
		Traders []string `yaml:"Traders"`
		// Transfers are made in every round alternating direction between
		// the round's sender and recipient.
		Transfers []Transfer `yaml:"Transfers"`
	}

	// Transfer is a single transaction template.
	Transfer struct {
		Amount uint64 `yaml:"Amount"`
		Fee    uint64 `yaml:"Fee"`
	}
)

// Validate checks SimulationConfiguration for internal consistency.
func (s SimulationConfiguration) Validate() error {
	if s.Difficulty < 0 || s.Difficulty > MaxDifficulty {
		return fmt.Errorf("Difficulty should be in [0, %d] range, got %d", MaxDifficulty, s.Difficulty)
	}
	if s.Rounds < 0 {
		return fmt.Errorf("negative Rounds: %d", s.Rounds)
	}
	if s.RoundInterval < 0 || s.MiningPause < 0 {
		return errors.New("negative durations are not allowed")
	}
	if s.EventBufferSize <= 0 {
		return fmt.Errorf("EventBufferSize should be positive, got %d", s.EventBufferSize)
	}
	if len(s.Traders) == 0 {
		return errors.New("no Traders specified")
	}
	for i, name := range s.Traders {
		if name == "" {
			return fmt.Errorf("empty trader name at index %d", i)
		}
	}
	if len(s.Transfers) == 0 {
		return errors.New("no Transfers specified")
	}
	return nil
}

// RoundCount returns the number of rounds to run.
func (s SimulationConfiguration) RoundCount() int {
	if s.Rounds != 0 {
		return s.Rounds
	}
	return len(s.Traders)
}
