package table

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
)

func TestManagerRoutesInstructions(t *testing.T) {
	h := newHarness(t, testOpts())
	var now atomic.Uint64
	now.Store(t0)
	clock := func() uint64 { return now.Load() }

	mgr, err := NewManager([]codec.TableConfig{testCfg}, h.opts, Deps{
		Journal:   h.store,
		Ledger:    h.led,
		Seeds:     h.beacon,
		Publisher: h.pub,
	}, 5*time.Millisecond, clock)
	require.NoError(t, err)
	require.Equal(t, []codec.GameType{codec.GameCraps}, mgr.Games())
	require.NoError(t, mgr.Recover(context.Background(), h.store, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	tbl, err := mgr.Table(codec.GameCraps)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := tbl.View(context.Background())
		return err == nil && v.Round.RoundID == 1
	}, time.Second, 5*time.Millisecond)

	h.led.Fund(player(1), 1000)
	bets := codec.SubmitBets{GameType: codec.GameCraps, RoundID: 1, Bets: []codec.Bet{field(100)}}
	ch, err := mgr.Dispatch(context.Background(), player(1), "tx1", bets)
	require.NoError(t, err)
	res := <-ch
	require.True(t, res.Accepted, res.Message)

	res, err = tbl.Submit(context.Background(), Submission{Player: player(1), RoundID: 1, Key: "tx1", Bets: bets.Bets})
	require.NoError(t, err)
	require.Equal(t, codec.RejectDuplicate, res.Code)
	require.ErrorIs(t, res.Err, ErrDuplicate)

	ch, err = mgr.Dispatch(context.Background(), player(1), "tx2", codec.OpenRound{GameType: codec.GameCraps})
	require.NoError(t, err)
	res = <-ch
	require.False(t, res.Accepted)
	require.ErrorIs(t, res.Err, ErrNotDue)

	_, err = mgr.Dispatch(context.Background(), player(1), "tx3", codec.OpenRound{GameType: codec.GameRoulette})
	require.ErrorIs(t, err, ErrUnknownTable)

	require.NoError(t, tbl.Pause(context.Background(), "operator"))
	v, err := tbl.View(context.Background())
	require.NoError(t, err)
	require.True(t, v.Paused)
	require.Equal(t, "operator", v.Reason)
	require.NoError(t, tbl.Resume(context.Background()))

	now.Store(t0 + 900)
	require.Eventually(t, func() bool {
		v, err := tbl.View(context.Background())
		return err == nil && v.Round.Phase == codec.PhaseLocked
	}, time.Second, 5*time.Millisecond)

	recs, err := tbl.Settlements(context.Background(), 1, []codec.Player{player(1)})
	require.ErrorIs(t, err, ErrNotDue)
	require.Empty(t, recs)

	cancel()
	require.NoError(t, <-done)
	_, err = tbl.Submit(context.Background(), Submission{Player: player(1), RoundID: 1, Key: "late", Bets: bets.Bets})
	require.ErrorIs(t, err, ErrStopped)
}

func TestManagerRejectsDuplicateTables(t *testing.T) {
	h := newHarness(t, testOpts())
	_, err := NewManager([]codec.TableConfig{testCfg, testCfg}, h.opts, Deps{Journal: h.store, Ledger: h.led, Seeds: h.beacon}, 0, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
