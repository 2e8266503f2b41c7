package games

import (
	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
	"globaltable/internal/rng"
)

// Craps bet types. Values match the shared casino bet numbering.
const (
	CrapsPassLine uint8 = 0
	CrapsDontPass uint8 = 1
	CrapsField    uint8 = 5
	CrapsHardway  uint8 = 7
	CrapsAnyCraps uint8 = 8
	CrapsAnySeven uint8 = 9
)

// Craps is a one-roll-per-round table. The point persists across rounds; line
// bets that neither win nor lose on a roll push.
type Craps struct{}

func (Craps) Type() codec.GameType { return codec.GameCraps }

func (Craps) ValidateBet(b codec.Bet) error {
	switch b.BetType {
	case CrapsPassLine, CrapsDontPass, CrapsField, CrapsAnyCraps, CrapsAnySeven:
		if b.Target != 0 {
			return errorsmod.Wrapf(ErrInvalidBet, "bet type %d takes no target", b.BetType)
		}
	case CrapsHardway:
		switch b.Target {
		case 4, 6, 8, 10:
		default:
			return errorsmod.Wrapf(ErrInvalidBet, "hardway target %d", b.Target)
		}
	default:
		return errorsmod.Wrapf(ErrInvalidBet, "craps bet type %d", b.BetType)
	}
	return nil
}

func pointBit(p uint8) uint8 {
	switch p {
	case 4:
		return 1 << 0
	case 5:
		return 1 << 1
	case 6:
		return 1 << 2
	case 8:
		return 1 << 3
	case 9:
		return 1 << 4
	case 10:
		return 1 << 5
	}
	return 0
}

func (Craps) NextOutcome(prev codec.Outcome, _ codec.TableConfig) codec.Outcome {
	next := codec.CrapsOutcome{FieldPaytable: codec.FieldStandard}
	p, ok := prev.(codec.CrapsOutcome)
	if !ok {
		return next
	}
	next.FieldPaytable = p.FieldPaytable
	if p.D1 == 0 {
		// previous round never rolled (aborted); carry its state unchanged
		next.MainPoint = p.MainPoint
		next.MadePointsMask = p.MadePointsMask
		next.EpochPointEstablished = p.EpochPointEstablished
		return next
	}
	total := p.D1 + p.D2
	switch {
	case p.MainPoint == 0 && pointBit(total) != 0:
		next.MainPoint = total
		next.EpochPointEstablished = true
		next.MadePointsMask = p.MadePointsMask
	case p.MainPoint != 0 && total != 7 && total != p.MainPoint:
		next.MainPoint = p.MainPoint
		next.EpochPointEstablished = true
		next.MadePointsMask = p.MadePointsMask
	case p.MainPoint != 0 && total == p.MainPoint:
		next.MadePointsMask = p.MadePointsMask | pointBit(total)
		next.EpochPointEstablished = true
	case p.MainPoint == 0:
		next.MadePointsMask = p.MadePointsMask
		next.EpochPointEstablished = p.EpochPointEstablished
	}
	// seven-out ends the epoch and clears made points
	return next
}

func (Craps) Resolve(rollSeed [32]byte, open codec.Outcome) codec.Outcome {
	out, _ := open.(codec.CrapsOutcome)
	s := rng.NewStream(rollSeed)
	out.D1 = uint8(s.Intn(6)) + 1
	out.D2 = uint8(s.Intn(6)) + 1
	return out
}

func fieldMultipliers(pt codec.FieldPaytable) (two, twelve int64) {
	switch pt {
	case codec.FieldDouble12:
		return 2, 3
	case codec.FieldTripleBoth:
		return 3, 3
	default:
		return 2, 2
	}
}

func (c Craps) Payout(o codec.Outcome, bets []codec.Bet) (int64, error) {
	out, ok := o.(codec.CrapsOutcome)
	if !ok || out.D1 == 0 || out.D2 == 0 {
		return 0, errorsmod.Wrap(ErrInvalidBet, "craps outcome not resolved")
	}
	total := out.D1 + out.D2
	hard := out.D1 == out.D2
	comeOut := out.MainPoint == 0
	sum := newLedgerSum()

	for _, b := range bets {
		switch b.BetType {
		case CrapsPassLine:
			switch {
			case comeOut && (total == 7 || total == 11):
				sum.win(b.Amount, 1)
			case comeOut && (total == 2 || total == 3 || total == 12):
				sum.lose(b.Amount)
			case !comeOut && total == out.MainPoint:
				sum.win(b.Amount, 1)
			case !comeOut && total == 7:
				sum.lose(b.Amount)
			}
		case CrapsDontPass:
			switch {
			case comeOut && (total == 2 || total == 3):
				sum.win(b.Amount, 1)
			case comeOut && (total == 7 || total == 11):
				sum.lose(b.Amount)
			case !comeOut && total == 7:
				sum.win(b.Amount, 1)
			case !comeOut && total == out.MainPoint:
				sum.lose(b.Amount)
			}
		case CrapsField:
			two, twelve := fieldMultipliers(out.FieldPaytable)
			switch total {
			case 2:
				sum.win(b.Amount, two)
			case 12:
				sum.win(b.Amount, twelve)
			case 3, 4, 9, 10, 11:
				sum.win(b.Amount, 1)
			default:
				sum.lose(b.Amount)
			}
		case CrapsHardway:
			switch {
			case total == b.Target && hard:
				if b.Target == 4 || b.Target == 10 {
					sum.win(b.Amount, 7)
				} else {
					sum.win(b.Amount, 9)
				}
			case total == 7 || total == b.Target:
				sum.lose(b.Amount)
			}
		case CrapsAnyCraps:
			if total == 2 || total == 3 || total == 12 {
				sum.win(b.Amount, 7)
			} else {
				sum.lose(b.Amount)
			}
		case CrapsAnySeven:
			if total == 7 {
				sum.win(b.Amount, 4)
			} else {
				sum.lose(b.Amount)
			}
		default:
			return 0, c.ValidateBet(b)
		}
	}
	return sum.result()
}
