package rng

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
)

func TestCommitTargetsUnpublishedView(t *testing.T) {
	b := NewBeacon(16)
	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, b.Publish(v, []byte{byte(v)}))
	}
	c := Commit(codec.GameCraps, 9, b.Latest(), 2_500)
	require.Equal(t, uint64(8), c.TargetView)
	require.Greater(t, c.TargetView, b.Latest())
	require.NoError(t, Verify(c))
	require.NoError(t, VerifyBytes(codec.GameCraps, 9, 8, c.Bytes()))

	forged := c
	forged.TargetView = 6
	require.ErrorIs(t, Verify(forged), ErrCommitMismatch)
	require.ErrorIs(t, VerifyBytes(codec.GameCraps, 10, 8, c.Bytes()), ErrCommitMismatch)
}

func TestRevealWaitsForSeed(t *testing.T) {
	b := NewBeacon(16)
	require.NoError(t, b.Publish(1, []byte("genesis")))
	c := Commit(codec.GameCraps, 1, b.Latest(), 0)
	require.Equal(t, uint64(2), c.TargetView)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(2, []byte("block-2"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	roll, err := Reveal(ctx, b, c)
	require.NoError(t, err)
	require.Equal(t, RollSeed([]byte("block-2"), 1, codec.GameCraps), roll)
}

func TestRevealTimeoutIsReported(t *testing.T) {
	b := NewBeacon(16)
	c := Commit(codec.GameRoulette, 3, 0, 1_000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Reveal(ctx, b, c)
	require.ErrorIs(t, err, ErrSeedUnavailable)
}

func TestBeaconRejectsStaleAndReportsMissing(t *testing.T) {
	b := NewBeacon(2)
	require.NoError(t, b.Publish(1, []byte{1}))
	require.NoError(t, b.Publish(3, []byte{3}))
	require.ErrorIs(t, b.Publish(3, []byte{4}), ErrInvalidSeed)
	require.ErrorIs(t, b.Publish(4, nil), ErrInvalidSeed)

	_, err := b.Seed(context.Background(), 2)
	require.ErrorIs(t, err, ErrSeedMissing)

	require.NoError(t, b.Publish(4, []byte{4}))
	require.NoError(t, b.Publish(5, []byte{5}))
	// view 3 fell out of the retention window
	_, err = b.Seed(context.Background(), 3)
	require.True(t, errors.Is(err, ErrSeedMissing))
	s, err := b.Seed(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []byte{5}, s)
}

func TestRollSeedIsPure(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a := RollSeed(seed, 11, codec.GameCraps)
	for i := 0; i < 3; i++ {
		require.Equal(t, a, RollSeed(seed, 11, codec.GameCraps))
	}
	require.NotEqual(t, a, RollSeed(seed, 12, codec.GameCraps))
	require.NotEqual(t, a, RollSeed(seed, 11, codec.GameRoulette))
}

func TestStreamIntnRange(t *testing.T) {
	s := NewStream(RollSeed([]byte("x"), 1, codec.GameCraps))
	counts := make([]int, 6)
	for i := 0; i < 6000; i++ {
		v := s.Intn(6)
		if v >= 6 {
			t.Fatalf("out of range: %d", v)
		}
		counts[v]++
	}
	for face, n := range counts {
		if n < 800 || n > 1200 {
			t.Fatalf("face %d drawn %d times", face, n)
		}
	}

	a := NewStream([32]byte{1})
	b := NewStream([32]byte{1})
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Intn(37), b.Intn(37))
	}
}
