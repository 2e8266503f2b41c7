package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
)

func TestApplyIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := codec.Player{1}
	m.Fund(p, 1_000)

	snap, err := m.Apply(ctx, []byte("k1"), p, -100)
	require.NoError(t, err)
	require.Equal(t, uint64(900), snap.Chips)

	again, err := m.Apply(ctx, []byte("k1"), p, -100)
	require.NoError(t, err)
	require.Equal(t, snap, again)

	bal, err := m.Balance(ctx, p)
	require.NoError(t, err)
	require.Equal(t, uint64(900), bal.Chips)
	require.Equal(t, 2, m.ApplyCalls())
}

func TestApplyFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := codec.Player{2}
	m.Fund(p, 50)

	m.FailNext(1)
	_, err := m.Apply(ctx, []byte("k"), p, 10)
	require.True(t, IsTransient(err))

	_, err = m.Apply(ctx, []byte("k2"), p, -51)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.False(t, IsTransient(err))

	_, err = m.Apply(ctx, []byte("k3"), p, math.MinInt64)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	m.Reject(true)
	_, err = m.Apply(ctx, []byte("k4"), p, 1)
	require.ErrorIs(t, err, ErrRejected)
}
