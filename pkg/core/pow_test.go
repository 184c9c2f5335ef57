package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"github.com/nspcc-dev/nexa-sim/pkg/core/transaction"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newCandidate(t *testing.T) *block.Block {
	b, err := block.New(1, "", []*transaction.Transaction{
		transaction.New("A", "B", 100, 1),
		transaction.New("B", "A", 50, 1),
	}, testClock())
	require.NoError(t, err)
	return b
}

func TestMine(t *testing.T) {
	for _, difficulty := range []int{0, 1, 2, 3} {
		b := newCandidate(t)
		m := NewMiner(difficulty, zaptest.NewLogger(t))
		m.Pause = 0

		iter, err := m.Mine(context.Background(), b)
		require.NoError(t, err)
		require.Equal(t, b.Nonce+1, iter)
		require.True(t, strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty)))
		require.Len(t, b.Hash, block.HashLen)
		require.Equal(t, b.Hash, b.CalculateHash())
		require.NoError(t, b.Verify(difficulty))
	}
}

func TestMineDefaultDifficulty(t *testing.T) {
	b := newCandidate(t)
	m := NewMiner(DefaultDifficulty, zaptest.NewLogger(t))
	m.Pause = 0

	_, err := m.Mine(context.Background(), b)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(b.Hash, "00"))
}

func TestMineCancelled(t *testing.T) {
	b := newCandidate(t)
	m := NewMiner(block.HashLen, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Mine(ctx, b)
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, b.Hash)
}

func TestMinePause(t *testing.T) {
	t.Run("threshold reached", func(t *testing.T) {
		b := newCandidate(t)
		m := NewMiner(1, zaptest.NewLogger(t))
		m.PauseThreshold = 0
		m.Pause = 50 * time.Millisecond

		start := time.Now()
		iter, err := m.Mine(context.Background(), b)
		require.NoError(t, err)
		require.GreaterOrEqual(t, time.Since(start), m.Pause)

		// The search isn't repeated after the pause.
		require.Equal(t, b.Nonce+1, iter)
	})

	t.Run("threshold not reached", func(t *testing.T) {
		b := newCandidate(t)
		m := NewMiner(0, zaptest.NewLogger(t))
		m.PauseThreshold = 100
		m.Pause = time.Hour

		iter, err := m.Mine(context.Background(), b)
		require.NoError(t, err)
		require.Equal(t, uint64(1), iter)
	})

	t.Run("cancelled during pause", func(t *testing.T) {
		b := newCandidate(t)
		m := NewMiner(0, zaptest.NewLogger(t))
		m.PauseThreshold = 0
		m.Pause = time.Hour

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := m.Mine(ctx, b)
		require.True(t, errors.Is(err, context.DeadlineExceeded))
		require.NotEmpty(t, b.Hash)
	})
}
