package games

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"globaltable/internal/codec"
)

const codespace = "games"

var (
	ErrUnknownGame = errorsmod.Register(codespace, 1, "unsupported game type")
	ErrInvalidBet  = errorsmod.Register(codespace, 2, "invalid bet")
	ErrOverflow    = errorsmod.Register(codespace, 3, "arithmetic overflow")
)

// Game is the pure, deterministic rule set of one table variant.
type Game interface {
	Type() codec.GameType
	ValidateBet(b codec.Bet) error
	// NextOutcome is the outcome payload a new round opens with, carrying any
	// state that persists between rounds (for example an established point).
	NextOutcome(prev codec.Outcome, cfg codec.TableConfig) codec.Outcome
	// Resolve fills in the random fields of open from rollSeed.
	Resolve(rollSeed [32]byte, open codec.Outcome) codec.Outcome
	// Payout returns the signed net result of bets against a resolved outcome:
	// a losing stake is negative, a push is zero.
	Payout(o codec.Outcome, bets []codec.Bet) (int64, error)
}

var registry = map[codec.GameType]Game{
	codec.GameCraps:    Craps{},
	codec.GameRoulette: Roulette{},
}

func Lookup(g codec.GameType) (Game, error) {
	game, ok := registry[g]
	if !ok {
		return nil, errorsmod.Wrapf(ErrUnknownGame, "%s", g)
	}
	return game, nil
}

// Stake sums the amounts of bets.
func Stake(bets []codec.Bet) (uint64, error) {
	var total uint64
	for _, b := range bets {
		next := total + b.Amount
		if next < total {
			return 0, errorsmod.Wrap(ErrOverflow, "stake")
		}
		total = next
	}
	return total, nil
}

// ledgerSum accumulates per-bet results in arbitrary precision and checks the
// final value fits the wire's i64 payout.
type ledgerSum struct {
	total sdkmath.Int
}

func newLedgerSum() *ledgerSum { return &ledgerSum{total: sdkmath.ZeroInt()} }

func (s *ledgerSum) win(amount uint64, mult int64) {
	s.total = s.total.Add(sdkmath.NewIntFromUint64(amount).MulRaw(mult))
}

func (s *ledgerSum) lose(amount uint64) {
	s.total = s.total.Sub(sdkmath.NewIntFromUint64(amount))
}

func (s *ledgerSum) result() (int64, error) {
	if !s.total.IsInt64() {
		return 0, errorsmod.Wrapf(ErrOverflow, "payout %s", s.total)
	}
	return s.total.Int64(), nil
}
