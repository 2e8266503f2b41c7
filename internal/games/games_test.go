package games

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
)

func crapsRoll(d1, d2, point uint8, pt codec.FieldPaytable) codec.CrapsOutcome {
	return codec.CrapsOutcome{D1: d1, D2: d2, MainPoint: point, FieldPaytable: pt}
}

func TestCrapsFieldLosesOnSeven(t *testing.T) {
	p, err := Craps{}.Payout(crapsRoll(3, 4, 0, codec.FieldStandard), []codec.Bet{{BetType: CrapsField, Amount: 100}})
	require.NoError(t, err)
	require.Equal(t, int64(-100), p)
}

func TestCrapsFieldPaytables(t *testing.T) {
	cases := []struct {
		pt       codec.FieldPaytable
		d1, d2   uint8
		expected int64
	}{
		{codec.FieldStandard, 1, 1, 200},
		{codec.FieldStandard, 6, 6, 200},
		{codec.FieldDouble12, 1, 1, 200},
		{codec.FieldDouble12, 6, 6, 300},
		{codec.FieldTripleBoth, 1, 1, 300},
		{codec.FieldTripleBoth, 6, 6, 300},
		{codec.FieldStandard, 4, 5, 100},
		{codec.FieldStandard, 2, 3, -100},
		{codec.FieldStandard, 4, 4, -100},
	}
	for _, tc := range cases {
		p, err := Craps{}.Payout(crapsRoll(tc.d1, tc.d2, 0, tc.pt), []codec.Bet{{BetType: CrapsField, Amount: 100}})
		require.NoError(t, err)
		require.Equal(t, tc.expected, p, "paytable %d roll %d+%d", tc.pt, tc.d1, tc.d2)
	}
}

func TestCrapsLineAndPropositionBets(t *testing.T) {
	bets := []codec.Bet{
		{BetType: CrapsPassLine, Amount: 10},
		{BetType: CrapsDontPass, Amount: 10},
		{BetType: CrapsAnySeven, Amount: 10},
		{BetType: CrapsAnyCraps, Amount: 10},
		{BetType: CrapsHardway, Target: 8, Amount: 10},
	}
	// come-out seven: pass +10, don't pass -10, any seven +40, any craps -10, hard 8 -10
	p, err := Craps{}.Payout(crapsRoll(3, 4, 0, codec.FieldStandard), bets)
	require.NoError(t, err)
	require.Equal(t, int64(20), p)

	// hard eight with point 8: pass +10, don't pass -10, any seven -10, any craps -10, hard 8 +90
	p, err = Craps{}.Payout(crapsRoll(4, 4, 8, codec.FieldStandard), bets)
	require.NoError(t, err)
	require.Equal(t, int64(70), p)

	// a 5 with point 8: line bets push, hardway push, props lose
	p, err = Craps{}.Payout(crapsRoll(2, 3, 8, codec.FieldStandard), bets)
	require.NoError(t, err)
	require.Equal(t, int64(-20), p)
}

func TestCrapsPointCarriesAcrossRounds(t *testing.T) {
	c := Craps{}
	cfg := codec.TableConfig{GameType: codec.GameCraps}
	open := c.NextOutcome(nil, cfg).(codec.CrapsOutcome)
	require.Zero(t, open.MainPoint)

	next := c.NextOutcome(crapsRoll(2, 4, 0, codec.FieldDouble12), cfg).(codec.CrapsOutcome)
	require.Equal(t, uint8(6), next.MainPoint)
	require.True(t, next.EpochPointEstablished)
	require.Equal(t, codec.FieldDouble12, next.FieldPaytable)

	made := c.NextOutcome(crapsRoll(3, 3, 6, codec.FieldStandard), cfg).(codec.CrapsOutcome)
	require.Zero(t, made.MainPoint)
	require.Equal(t, pointBit(6), made.MadePointsMask)

	out := c.NextOutcome(codec.CrapsOutcome{D1: 3, D2: 4, MainPoint: 9, MadePointsMask: 0x3f}, cfg).(codec.CrapsOutcome)
	require.Zero(t, out.MainPoint)
	require.Zero(t, out.MadePointsMask)
}

func TestCrapsResolveIsDeterministic(t *testing.T) {
	seed := [32]byte{9, 9, 9}
	open := codec.CrapsOutcome{MainPoint: 5, FieldPaytable: codec.FieldTripleBoth}
	a := Craps{}.Resolve(seed, open).(codec.CrapsOutcome)
	b := Craps{}.Resolve(seed, open).(codec.CrapsOutcome)
	require.Equal(t, a, b)
	require.True(t, a.D1 >= 1 && a.D1 <= 6 && a.D2 >= 1 && a.D2 <= 6)
	require.Equal(t, uint8(5), a.MainPoint)
	require.Equal(t, codec.FieldTripleBoth, a.FieldPaytable)
}

func TestRoulettePayout(t *testing.T) {
	bets := []codec.Bet{
		{BetType: RouletteStraight, Target: 17, Amount: 10},
		{BetType: RouletteBlack, Amount: 10},
		{BetType: RouletteOdd, Amount: 10},
		{BetType: RouletteHigh, Amount: 10},
	}
	p, err := Roulette{}.Payout(codec.RouletteOutcome{Pocket: 17, Spun: true}, bets)
	require.NoError(t, err)
	require.Equal(t, int64(350+10+10-10), p)

	p, err = Roulette{}.Payout(codec.RouletteOutcome{Pocket: 0, Spun: true}, bets)
	require.NoError(t, err)
	require.Equal(t, int64(-40), p)

	_, err = Roulette{}.Payout(codec.RouletteOutcome{}, bets)
	require.ErrorIs(t, err, ErrInvalidBet)
}

func TestValidateBet(t *testing.T) {
	require.NoError(t, Craps{}.ValidateBet(codec.Bet{BetType: CrapsHardway, Target: 10, Amount: 1}))
	require.ErrorIs(t, Craps{}.ValidateBet(codec.Bet{BetType: CrapsHardway, Target: 5}), ErrInvalidBet)
	require.ErrorIs(t, Craps{}.ValidateBet(codec.Bet{BetType: 42}), ErrInvalidBet)
	require.ErrorIs(t, Roulette{}.ValidateBet(codec.Bet{BetType: RouletteStraight, Target: 37}), ErrInvalidBet)

	_, err := Lookup(codec.GameBaccarat)
	require.ErrorIs(t, err, ErrUnknownGame)
	g, err := Lookup(codec.GameCraps)
	require.NoError(t, err)
	require.Equal(t, codec.GameCraps, g.Type())
}

func TestPayoutOverflowIsReported(t *testing.T) {
	bets := []codec.Bet{{BetType: CrapsAnyCraps, Amount: math.MaxUint64}}
	_, err := Craps{}.Payout(crapsRoll(1, 1, 0, codec.FieldStandard), bets)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Stake([]codec.Bet{{Amount: math.MaxUint64}, {Amount: 1}})
	require.ErrorIs(t, err, ErrOverflow)
}
