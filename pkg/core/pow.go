package core

import (
	"context"
	"time"

	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"go.uber.org/zap"
)

const (
	// DefaultDifficulty is the default number of leading zero hex characters
	// in block hashes.
	DefaultDifficulty = 2
	// DefaultPauseThreshold is the default number of mining iterations after
	// which the miner pauses before returning the block.
	DefaultPauseThreshold = 100
	// DefaultPause is the default mining pause duration.
	DefaultPause = 3 * time.Second

	// ctxCheckInterval is the number of hashing iterations between context
	// checks.
	ctxCheckInterval = 1024
)

// Miner searches for nonces satisfying the proof-of-work difficulty.
type Miner struct {
	Difficulty int
	// PauseThreshold is the number of iterations mining needs to take for
	// the miner to pause after finding the nonce. It makes long mining
	// visible to observers, the search itself is never repeated.
	PauseThreshold uint64
	// Pause is the pause duration, zero disables it.
	Pause time.Duration

	log *zap.Logger
}

// NewMiner creates a new Miner with the default pacing settings.
func NewMiner(difficulty int, log *zap.Logger) *Miner {
	return &Miner{
		Difficulty:     difficulty,
		PauseThreshold: DefaultPauseThreshold,
		Pause:          DefaultPause,
		log:            log,
	}
}

// Mine increments block nonce until its hash satisfies the difficulty and
// sets the block hash. It returns the number of iterations it took. The
// block must not be shared with anyone while it's being mined.
func (m *Miner) Mine(ctx context.Context, b *block.Block) (uint64, error) {
	var (
		h     = block.NewHasher(b)
		start = time.Now()
		iter  uint64
	)
	for {
		if iter%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				addHashAttempts(iter)
				return iter, err
			}
		}
		hash := h.Hash()
		iter++
		if block.MeetsDifficulty(hash, m.Difficulty) {
			b.Hash = hash
			break
		}
		b.Nonce++
	}
	addHashAttempts(iter)
	observeMiningTime(time.Since(start))
	m.log.Debug("block mined",
		zap.Uint32("index", b.Index),
		zap.Uint64("nonce", b.Nonce),
		zap.Uint64("iterations", iter),
		zap.String("hash", b.Hash))

	if m.Pause > 0 && iter > m.PauseThreshold {
		m.log.Info("mining is in process", zap.Uint32("index", b.Index), zap.Duration("pause", m.Pause))
		t := time.NewTimer(m.Pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return iter, ctx.Err()
		case <-t.C:
		}
	}
	return iter, nil
}
