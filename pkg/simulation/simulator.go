/*
Package simulation drives the ledger: every round it creates transactions
between traders, mines a block containing them and appends it to the ledger,
publishing domain events for every step.
*/
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/core"
	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"github.com/nspcc-dev/nexa-sim/pkg/core/transaction"
	"github.com/nspcc-dev/nexa-sim/pkg/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// NexaPerBlock is the amount of Nexa reported as traded per ledger block.
const NexaPerBlock = 137

type (
	// Publisher accepts domain events.
	Publisher interface {
		Publish(event.Event)
	}

	// Simulator runs simulation rounds over the ledger. Run must not be
	// called concurrently.
	Simulator struct {
		cfg    config.SimulationConfiguration
		ledger *core.Ledger
		miner  *core.Miner
		bus    Publisher
		clock  block.Clock
		log    *zap.Logger

		mined   *atomic.Uint32
		skipped *atomic.Uint32
	}

	// Summary describes the simulation results.
	Summary struct {
		TotalBlocks       int
		TotalTransactions int
		// BlocksMined is the number of blocks added by the Simulator.
		BlocksMined int
		// RoundsSkipped is the number of rounds that failed to produce a
		// block.
		RoundsSkipped int
		NexaTraded    uint64
	}
)

// New creates a Simulator. cfg.Miner is used as is, so it must be resolved by
// the caller.
func New(cfg config.SimulationConfiguration, ledger *core.Ledger, bus Publisher, clock block.Clock, log *zap.Logger) *Simulator {
	if cfg.Miner == "" {
		cfg.Miner = config.DefaultMiner
	}
	m := core.NewMiner(ledger.Difficulty(), log)
	m.PauseThreshold = cfg.MiningPauseThreshold
	m.Pause = cfg.MiningPause
	return &Simulator{
		cfg:     cfg,
		ledger:  ledger,
		miner:   m,
		bus:     bus,
		clock:   clock,
		log:     log,
		mined:   atomic.NewUint32(0),
		skipped: atomic.NewUint32(0),
	}
}

// Run executes all configured rounds. It returns ctx error if it's cancelled
// before completion.
func (s *Simulator) Run(ctx context.Context) error {
	var (
		rounds = s.cfg.RoundCount()
		sender = s.cfg.Miner
	)
	s.log.Info("starting simulation",
		zap.String("miner", s.cfg.Miner),
		zap.Int("rounds", rounds),
		zap.Int("difficulty", s.ledger.Difficulty()))

	for i := 0; i < rounds; i++ {
		recipient := s.recipient(i)
		err := s.round(ctx, s.transfers(sender, recipient))
		if err != nil {
			if errors.Is(err, block.ErrClock) {
				s.skipped.Inc()
				s.log.Error("round skipped", zap.Int("round", i+1), zap.Error(err))
				continue
			}
			return err
		}
		sender = recipient

		if i == rounds-1 {
			break
		}
		t := time.NewTimer(s.cfg.RoundInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	sum := s.Summary()
	s.log.Info("simulation finished",
		zap.Int("blocks", sum.TotalBlocks),
		zap.Int("transactions", sum.TotalTransactions),
		zap.Int("skipped", sum.RoundsSkipped),
		zap.Uint64("nexa traded", sum.NexaTraded))
	return nil
}

// recipient returns the counterparty of the round, traders are taken in
// order with the miner closing every cycle.
func (s *Simulator) recipient(round int) string {
	k := (round + 1) % len(s.cfg.Traders)
	if k == 0 {
		return s.cfg.Miner
	}
	return s.cfg.Traders[k]
}

// transfers makes round transactions alternating their direction.
func (s *Simulator) transfers(sender, recipient string) []*transaction.Transaction {
	txs := make([]*transaction.Transaction, 0, len(s.cfg.Transfers))
	for i, tr := range s.cfg.Transfers {
		from, to := sender, recipient
		if i%2 == 1 {
			from, to = to, from
		}
		txs = append(txs, transaction.New(from, to, tr.Amount, tr.Fee))
	}
	return txs
}

func (s *Simulator) round(ctx context.Context, txs []*transaction.Transaction) error {
	tail := s.ledger.Tail()
	b, err := block.New(tail.Index+1, tail.Hash, txs, s.clock)
	if err != nil {
		return err
	}
	log := s.log.With(zap.Uint32("block", b.Index))
	log.Info("mining block", zap.Int("transactions", len(txs)))

	for _, tx := range txs {
		s.bus.Publish(event.TransactionCreated{
			From:       tx.From,
			To:         tx.To,
			Amount:     tx.Amount,
			Fee:        tx.Fee,
			BlockIndex: b.Index,
		})
	}
	s.bus.Publish(event.MiningStarted{
		BlockIndex: b.Index,
		Miner:      s.cfg.Miner,
		Timestamp:  b.Timestamp,
	})

	if _, err := s.miner.Mine(ctx, b); err != nil {
		return fmt.Errorf("mining block %d: %w", b.Index, err)
	}
	s.bus.Publish(event.BlockMined{
		BlockIndex: b.Index,
		Hash:       b.Hash,
		Miner:      s.cfg.Miner,
		Timestamp:  b.Timestamp,
		TxCount:    len(b.Transactions),
	})

	if err := s.ledger.AddBlock(b); err != nil {
		return err
	}
	s.mined.Inc()
	s.bus.Publish(event.LedgerUpdated{
		TotalBlocks:       s.ledger.BlockCount(),
		TotalTransactions: s.ledger.TransactionCount(),
	})

	for i, tx := range b.Transactions {
		log.Info("block transaction", zap.Int("n", i+1), zap.Stringer("tx", tx))
	}
	log.Info("block added", zap.String("hash", b.Hash))
	return nil
}

// Summary returns the current simulation results, it's safe to call
// concurrently with Run.
func (s *Simulator) Summary() Summary {
	blocks := s.ledger.BlockCount()
	return Summary{
		TotalBlocks:       blocks,
		TotalTransactions: s.ledger.TransactionCount(),
		BlocksMined:       int(s.mined.Load()),
		RoundsSkipped:     int(s.skipped.Load()),
		NexaTraded:        uint64(blocks) * NexaPerBlock,
	}
}
