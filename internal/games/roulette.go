package games

import (
	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
	"globaltable/internal/rng"
)

const (
	RouletteStraight uint8 = 0
	RouletteRed      uint8 = 1
	RouletteBlack    uint8 = 2
	RouletteOdd      uint8 = 3
	RouletteEven     uint8 = 4
	RouletteLow      uint8 = 5
	RouletteHigh     uint8 = 6
)

const roulettePockets = 37

var redPockets = map[uint8]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// Roulette is a single-zero wheel.
type Roulette struct{}

func (Roulette) Type() codec.GameType { return codec.GameRoulette }

func (Roulette) ValidateBet(b codec.Bet) error {
	switch b.BetType {
	case RouletteStraight:
		if b.Target >= roulettePockets {
			return errorsmod.Wrapf(ErrInvalidBet, "pocket %d", b.Target)
		}
	case RouletteRed, RouletteBlack, RouletteOdd, RouletteEven, RouletteLow, RouletteHigh:
		if b.Target != 0 {
			return errorsmod.Wrapf(ErrInvalidBet, "bet type %d takes no target", b.BetType)
		}
	default:
		return errorsmod.Wrapf(ErrInvalidBet, "roulette bet type %d", b.BetType)
	}
	return nil
}

func (Roulette) NextOutcome(codec.Outcome, codec.TableConfig) codec.Outcome {
	return codec.RouletteOutcome{}
}

func (Roulette) Resolve(rollSeed [32]byte, _ codec.Outcome) codec.Outcome {
	s := rng.NewStream(rollSeed)
	return codec.RouletteOutcome{Pocket: uint8(s.Intn(roulettePockets)), Spun: true}
}

func (r Roulette) Payout(o codec.Outcome, bets []codec.Bet) (int64, error) {
	out, ok := o.(codec.RouletteOutcome)
	if !ok || !out.Spun {
		return 0, errorsmod.Wrap(ErrInvalidBet, "roulette outcome not resolved")
	}
	p := out.Pocket
	sum := newLedgerSum()
	for _, b := range bets {
		var won bool
		switch b.BetType {
		case RouletteStraight:
			if p == b.Target {
				sum.win(b.Amount, 35)
				continue
			}
		case RouletteRed:
			won = redPockets[p]
		case RouletteBlack:
			won = p != 0 && !redPockets[p]
		case RouletteOdd:
			won = p != 0 && p%2 == 1
		case RouletteEven:
			won = p != 0 && p%2 == 0
		case RouletteLow:
			won = p >= 1 && p <= 18
		case RouletteHigh:
			won = p >= 19
		default:
			return 0, r.ValidateBet(b)
		}
		if won {
			sum.win(b.Amount, 1)
		} else {
			sum.lose(b.Amount)
		}
	}
	return sum.result()
}
