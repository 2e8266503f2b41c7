package table

import (
	"math"
	"time"

	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
	"globaltable/internal/games"
)

// Options tune one table engine. Durations in milliseconds are compared with
// the engine clock; RevealWait bounds a single blocking seed lookup.
type Options struct {
	LatencyBufferMs uint64
	SettleSlice     int
	SnapshotEvery   uint64
	RevealWait      time.Duration
	RevealTimeoutMs uint64
	StallCeilingMs  uint64
	IntakeCapacity  int
	LedgerRetries   uint64
	ValidateWorkers int
	AutoOpen        bool
}

func DefaultOptions() Options {
	return Options{
		LatencyBufferMs: 500,
		SettleSlice:     256,
		SnapshotEvery:   10,
		RevealWait:      50 * time.Millisecond,
		RevealTimeoutMs: 10_000,
		StallCeilingMs:  30_000,
		IntakeCapacity:  4096,
		LedgerRetries:   3,
		ValidateWorkers: 8,
		AutoOpen:        true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SettleSlice <= 0 {
		o.SettleSlice = d.SettleSlice
	}
	if o.SnapshotEvery == 0 {
		o.SnapshotEvery = d.SnapshotEvery
	}
	if o.RevealWait <= 0 {
		o.RevealWait = d.RevealWait
	}
	if o.RevealTimeoutMs == 0 {
		o.RevealTimeoutMs = d.RevealTimeoutMs
	}
	if o.StallCeilingMs == 0 {
		o.StallCeilingMs = d.StallCeilingMs
	}
	if o.IntakeCapacity <= 0 {
		o.IntakeCapacity = d.IntakeCapacity
	}
	if o.ValidateWorkers <= 0 {
		o.ValidateWorkers = d.ValidateWorkers
	}
	return o
}

// ValidateConfig applies the table rules: a supported game, non-zero timing
// windows and bet limits, and a per-round bet cap the wire can carry.
func ValidateConfig(c codec.TableConfig) error {
	if _, err := games.Lookup(c.GameType); err != nil {
		return errorsmod.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.BettingMs == 0 || c.LockMs == 0 || c.PayoutMs == 0 || c.CooldownMs == 0 {
		return errorsmod.Wrap(ErrInvalidConfig, "phase durations must be > 0")
	}
	if c.MinBet == 0 || c.MaxBet < c.MinBet {
		return errorsmod.Wrapf(ErrInvalidConfig, "bet limits [%d, %d]", c.MinBet, c.MaxBet)
	}
	if c.MaxBetsPerRound == 0 || int(c.MaxBetsPerRound) > codec.MaxBets {
		return errorsmod.Wrapf(ErrInvalidConfig, "max bets per round %d", c.MaxBetsPerRound)
	}
	var cycle uint64
	for _, d := range []uint64{c.BettingMs, c.LockMs, c.PayoutMs, c.CooldownMs} {
		if cycle > math.MaxUint64-d {
			return errorsmod.Wrap(ErrInvalidConfig, "phase durations overflow")
		}
		cycle += d
	}
	return nil
}
