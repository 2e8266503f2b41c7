package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	MaxVarintLen = 10

	// MaxBets bounds one SubmitBets instruction and one player's bets in a round.
	MaxBets = 64
	// MaxTotals bounds the distinct (betType, target) aggregates of a round.
	MaxTotals = 64

	DigestLen     = 32
	MaxMessageLen = 1024
	MaxProofLen   = 4096

	betWireLen = 10
)

type GameType uint8

const (
	GameBaccarat GameType = iota
	GameBlackjack
	GameCasinoWar
	GameCraps
	GameVideoPoker
	GameHiLo
	GameRoulette
	GameSicBo
	GameThreeCard
	GameUltimateHoldem
)

var gameNames = [...]string{
	"baccarat", "blackjack", "casino_war", "craps", "video_poker",
	"hilo", "roulette", "sic_bo", "three_card", "ultimate_holdem",
}

func (g GameType) Valid() bool { return int(g) < len(gameNames) }

func (g GameType) String() string {
	if !g.Valid() {
		return fmt.Sprintf("game(%d)", uint8(g))
	}
	return gameNames[g]
}

func ParseGameType(s string) (GameType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range gameNames {
		if name == s {
			return GameType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown game type %q", s)
}

type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseLocked
	PhaseResolving
	PhaseSettling
	PhaseFinalized
)

func (p Phase) Valid() bool { return p <= PhaseFinalized }

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseLocked:
		return "locked"
	case PhaseResolving:
		return "resolving"
	case PhaseSettling:
		return "settling"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Player is a 32-byte account key.
type Player [32]byte

func (p Player) String() string { return hex.EncodeToString(p[:]) }

func ParsePlayer(s string) (Player, error) {
	var p Player
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return p, fmt.Errorf("invalid player hex: %w", err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("invalid player length: %d", len(b))
	}
	copy(p[:], b)
	return p, nil
}

type Bet struct {
	BetType uint8
	Target  uint8
	Amount  uint64
}

// Total is the round-wide sum of all accepted bets on one (BetType, Target).
type Total struct {
	BetType uint8
	Target  uint8
	Amount  uint64
}

type TableConfig struct {
	GameType        GameType
	BettingMs       uint64
	LockMs          uint64
	PayoutMs        uint64
	CooldownMs      uint64
	MinBet          uint64
	MaxBet          uint64
	MaxBetsPerRound uint8
}

// CycleMs is the nominal length of one full round.
func (c TableConfig) CycleMs() uint64 {
	return c.BettingMs + c.LockMs + c.PayoutMs + c.CooldownMs
}

func (w *Writer) TableConfig(c TableConfig) {
	w.GameType(c.GameType)
	w.U64(c.BettingMs)
	w.U64(c.LockMs)
	w.U64(c.PayoutMs)
	w.U64(c.CooldownMs)
	w.U64(c.MinBet)
	w.U64(c.MaxBet)
	w.U8(c.MaxBetsPerRound)
}

func (r *Reader) TableConfig() (TableConfig, error) {
	var c TableConfig
	var err error
	if c.GameType, err = r.GameType(); err != nil {
		return c, err
	}
	for _, f := range []*uint64{&c.BettingMs, &c.LockMs, &c.PayoutMs, &c.CooldownMs, &c.MinBet, &c.MaxBet} {
		if *f, err = r.U64(); err != nil {
			return c, err
		}
	}
	c.MaxBetsPerRound, err = r.U8()
	return c, err
}

type BalanceSnapshot struct {
	Chips             uint64
	VUSDT             uint64
	Shields           uint32
	Doubles           uint32
	TournamentChips   uint64
	TournamentShields uint32
	TournamentDoubles uint32
	ActiveTournament  *uint64
}

func (w *Writer) Balance(b BalanceSnapshot) {
	w.U64(b.Chips)
	w.U64(b.VUSDT)
	w.U32(b.Shields)
	w.U32(b.Doubles)
	w.U64(b.TournamentChips)
	w.U32(b.TournamentShields)
	w.U32(b.TournamentDoubles)
	w.OptionU64(b.ActiveTournament)
}

func (r *Reader) Balance() (BalanceSnapshot, error) {
	var b BalanceSnapshot
	var err error
	if b.Chips, err = r.U64(); err != nil {
		return b, err
	}
	if b.VUSDT, err = r.U64(); err != nil {
		return b, err
	}
	if b.Shields, err = r.U32(); err != nil {
		return b, err
	}
	if b.Doubles, err = r.U32(); err != nil {
		return b, err
	}
	if b.TournamentChips, err = r.U64(); err != nil {
		return b, err
	}
	if b.TournamentShields, err = r.U32(); err != nil {
		return b, err
	}
	if b.TournamentDoubles, err = r.U32(); err != nil {
		return b, err
	}
	b.ActiveTournament, err = r.OptionU64()
	return b, err
}
