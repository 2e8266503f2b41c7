package table

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
)

var errCrash = errors.New("process killed")

// crashJournal lets left appends through and then dies the way a killed
// process does: mid-call, with nothing after it written.
type crashJournal struct {
	Journal
	left int
}

func (j *crashJournal) Append(ctx context.Context, g codec.GameType, recs ...eventlog.Record) ([]eventlog.Record, error) {
	if j.left == 0 {
		panic(errCrash)
	}
	j.left--
	return j.Journal.Append(ctx, g, recs...)
}

func crashes(fn func()) (hit bool) {
	defer func() {
		if r := recover(); r != nil {
			if r != errCrash {
				panic(r)
			}
			hit = true
		}
	}()
	fn()
	return false
}

type crashStep struct {
	now uint64
	do  func(h *harness)
}

// crashScenario runs two rounds: the first settles through a ledger outage,
// the second times out on its seed, pauses and is resumed.
func crashScenario(t *testing.T) []crashStep {
	seed1 := crapsSeed(t, 1, 3, 4)
	seed2 := crapsSeed(t, 2, 2, 2)
	return []crashStep{
		{t0, nil},
		{t0 + 20, func(h *harness) {
			h.enqueue(player(1), 1, "a", t0+10, field(100))
			h.enqueue(player(2), 1, "a", t0+10, field(50), codec.Bet{BetType: 7, Target: 6, Amount: 10})
			h.enqueue(player(3), 1, "a", t0+11, field(30))
		}},
		{t0 + 900, nil},
		{t0 + 1900, nil},
		{t0 + 1950, func(h *harness) {
			h.led.FailNext(2)
			// already there when the step is replayed
			_ = h.beacon.Publish(h.m.Commitment().TargetView, seed1)
		}},
		{t0 + 2000, func(h *harness) { h.led.FailNext(0) }},
		{t0 + 4000, nil},
		{t0 + 4100, func(h *harness) {
			h.enqueue(player(1), 2, "b", t0+4050, field(20))
			h.enqueue(player(3), 2, "b", t0+4060, field(40))
		}},
		{t0 + 4900, nil},
		{t0 + 5900, nil},
		{t0 + 7900, nil},
		{t0 + 8000, func(h *harness) {
			_ = h.beacon.Publish(h.m.Commitment().TargetView, seed2)
			require.NoError(h.t, h.m.Resume(context.Background(), t0+8000))
		}},
	}
}

func crashOpts() Options {
	opts := testOpts()
	opts.RevealTimeoutMs = 2000
	opts.SnapshotEvery = 1
	return opts
}

// runUntilCrash plays the scenario on a journal that dies after crashAfter
// appends (never, when negative). The step that was interrupted is played
// again on a machine recovered from the log, as a gateway would resend it.
func runUntilCrash(t *testing.T, steps []crashStep, crashAfter int) (*harness, *crashJournal) {
	h := newHarness(t, crashOpts())
	j := &crashJournal{Journal: h.store, left: crashAfter}
	m, err := NewMachine(testCfg, h.opts, Deps{Journal: j, Ledger: h.led, Seeds: h.beacon, Publisher: h.pub})
	require.NoError(t, err)
	h.m = m
	for i := byte(1); i <= 3; i++ {
		h.led.Fund(player(i), 1000)
	}

	run := func(s crashStep) {
		if s.do != nil {
			s.do(h)
		}
		h.tick(s.now)
	}
	for _, s := range steps {
		if !crashes(func() { run(s) }) {
			continue
		}
		h.restart(0, s.now)
		run(s)
	}
	return h, j
}

func balances(t *testing.T, h *harness) []uint64 {
	var out []uint64
	for i := byte(1); i <= 3; i++ {
		b, err := h.led.Balance(context.Background(), player(i))
		require.NoError(t, err)
		out = append(out, b.Chips)
	}
	return out
}

func TestCrashAtEveryAppendConverges(t *testing.T) {
	steps := crashScenario(t)

	want, j := runUntilCrash(t, steps, -1)
	appends := -j.left - 1
	require.Greater(t, appends, 15)
	require.GreaterOrEqual(t, want.m.Round().RoundID, uint64(2))
	paused, _ := want.m.Paused()
	require.False(t, paused)
	require.Len(t, want.pub.byTag(codec.TagPlayerSettled), 5)
	wantState := stateBytes(t, want.m)
	wantBal := balances(t, want)
	require.NotEqual(t, []uint64{1000, 1000, 1000}, wantBal)

	for k := 0; k < appends; k++ {
		got, _ := runUntilCrash(t, steps, k)
		require.Equal(t, wantState, stateBytes(t, got.m), "crash after %d appends", k)
		require.Equal(t, wantBal, balances(t, got), "crash after %d appends", k)
	}
}

func TestRestartMidSettlingPaysEachPlayerOnce(t *testing.T) {
	h := newHarness(t, testOpts())
	ctx := context.Background()
	bettingRound(h, 3)
	require.NoError(t, h.beacon.Publish(2, crapsSeed(t, 1, 3, 4)))

	h.led.FailNext(2)
	h.tick(t0 + 1900)
	require.Equal(t, codec.PhaseSettling, h.m.Round().Phase)
	require.Equal(t, 3, h.led.ApplyCalls())
	require.Len(t, h.pub.byTag(codec.TagPlayerSettled), 1)

	m := h.restart(0, t0+1910)
	require.Equal(t, codec.PhaseSettling, m.Round().Phase)
	recs, err := m.SettleSlice(ctx, t0+1910, 1, []codec.Player{player(3)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, StatusSettled, recs[0].Status)
	require.Equal(t, 3, h.led.ApplyCalls(), "settled before the restart, not paid again")

	h.tick(t0 + 2000)
	require.Equal(t, codec.PhaseFinalized, m.Round().Phase)
	require.Equal(t, 5, h.led.ApplyCalls())
	require.Len(t, h.pub.byTag(codec.TagPlayerSettled), 3)
	for i := byte(1); i <= 3; i++ {
		bal, err := h.led.Balance(ctx, player(i))
		require.NoError(t, err)
		require.Equal(t, uint64(900), bal.Chips)
	}
	require.Equal(t, stateBytes(t, m), stateBytes(t, h.peek(t0+2001)))
}
