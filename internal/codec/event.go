package codec

import "strconv"

// EventTag identifies an engine → gateway event.
type EventTag uint8

const (
	TagRoundOpened   EventTag = 60
	TagBetAccepted   EventTag = 61
	TagBetRejected   EventTag = 62
	TagLocked        EventTag = 63
	TagOutcome       EventTag = 64
	TagPlayerSettled EventTag = 65
	TagFinalized     EventTag = 66
)

func (t EventTag) String() string {
	switch t {
	case TagRoundOpened:
		return "round_opened"
	case TagBetAccepted:
		return "bet_accepted"
	case TagBetRejected:
		return "bet_rejected"
	case TagLocked:
		return "locked"
	case TagOutcome:
		return "outcome"
	case TagPlayerSettled:
		return "player_settled"
	case TagFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// RejectCode is the wire reason carried by BetRejected.
type RejectCode uint8

const (
	RejectRoundClosed         RejectCode = 1
	RejectLimitExceeded       RejectCode = 2
	RejectDuplicate           RejectCode = 3
	RejectInsufficientBalance RejectCode = 4
)

func (c RejectCode) String() string {
	switch c {
	case RejectRoundClosed:
		return "ROUND_CLOSED"
	case RejectLimitExceeded:
		return "LIMIT_EXCEEDED"
	case RejectDuplicate:
		return "DUPLICATE"
	case RejectInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	default:
		return "CODE_" + strconv.Itoa(int(c))
	}
}

type Event interface {
	EventTag() EventTag
}

type RoundOpened struct {
	Round Round
}

type BetAccepted struct {
	Player  Player
	RoundID uint64
	Bets    []Bet
	Balance BalanceSnapshot
}

type BetRejected struct {
	Player  Player
	RoundID uint64
	Code    RejectCode
	Message string
}

type Locked struct {
	GameType    GameType
	RoundID     uint64
	PhaseEndsAt uint64
}

type RoundOutcome struct {
	Round Round
}

type PlayerSettled struct {
	Player  Player
	RoundID uint64
	Payout  int64
	Balance BalanceSnapshot
	Bets    []Bet
}

type Finalized struct {
	GameType GameType
	RoundID  uint64
}

func (RoundOpened) EventTag() EventTag   { return TagRoundOpened }
func (BetAccepted) EventTag() EventTag   { return TagBetAccepted }
func (BetRejected) EventTag() EventTag   { return TagBetRejected }
func (Locked) EventTag() EventTag        { return TagLocked }
func (RoundOutcome) EventTag() EventTag  { return TagOutcome }
func (PlayerSettled) EventTag() EventTag { return TagPlayerSettled }
func (Finalized) EventTag() EventTag     { return TagFinalized }

// Critical reports whether gateways must receive ev even under backpressure.
func Critical(ev Event) bool {
	switch ev.(type) {
	case Locked, RoundOutcome, PlayerSettled, Finalized:
		return true
	default:
		return false
	}
}

func (w *Writer) Event(ev Event) {
	w.U8(uint8(ev.EventTag()))
	switch v := ev.(type) {
	case RoundOpened:
		w.Round(v.Round)
	case BetAccepted:
		w.Player(v.Player)
		w.U64(v.RoundID)
		w.Bets(v.Bets)
		w.Balance(v.Balance)
	case BetRejected:
		w.Player(v.Player)
		w.U64(v.RoundID)
		w.U8(uint8(v.Code))
		w.String(v.Message, MaxMessageLen)
	case Locked:
		w.GameType(v.GameType)
		w.U64(v.RoundID)
		w.U64(v.PhaseEndsAt)
	case RoundOutcome:
		w.Round(v.Round)
	case PlayerSettled:
		w.Player(v.Player)
		w.U64(v.RoundID)
		w.I64(v.Payout)
		w.Balance(v.Balance)
		w.Bets(v.Bets)
	case Finalized:
		w.GameType(v.GameType)
		w.U64(v.RoundID)
	default:
		w.fail("unsupported event %T", ev)
	}
}

func (r *Reader) Event() (Event, error) {
	start := r.off
	tag, err := r.U8()
	if err != nil {
		return nil, err
	}
	switch EventTag(tag) {
	case TagRoundOpened:
		rd, err := r.Round()
		return RoundOpened{Round: rd}, err
	case TagBetAccepted:
		var v BetAccepted
		if v.Player, err = r.Player(); err != nil {
			return nil, err
		}
		if v.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		if v.Bets, err = r.Bets(); err != nil {
			return nil, err
		}
		v.Balance, err = r.Balance()
		return v, err
	case TagBetRejected:
		var v BetRejected
		if v.Player, err = r.Player(); err != nil {
			return nil, err
		}
		if v.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		code, err := r.U8()
		if err != nil {
			return nil, err
		}
		v.Code = RejectCode(code)
		v.Message, err = r.String(MaxMessageLen)
		return v, err
	case TagLocked:
		var v Locked
		if v.GameType, err = r.GameType(); err != nil {
			return nil, err
		}
		if v.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		v.PhaseEndsAt, err = r.U64()
		return v, err
	case TagOutcome:
		rd, err := r.Round()
		return RoundOutcome{Round: rd}, err
	case TagPlayerSettled:
		var v PlayerSettled
		if v.Player, err = r.Player(); err != nil {
			return nil, err
		}
		if v.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		if v.Payout, err = r.I64(); err != nil {
			return nil, err
		}
		if v.Balance, err = r.Balance(); err != nil {
			return nil, err
		}
		v.Bets, err = r.Bets()
		return v, err
	case TagFinalized:
		var v Finalized
		if v.GameType, err = r.GameType(); err != nil {
			return nil, err
		}
		v.RoundID, err = r.U64()
		return v, err
	default:
		r.off = start
		return nil, r.errf(KindUnknownTag, "event tag %d", tag)
	}
}

func EncodeEvent(ev Event) ([]byte, error) {
	w := NewWriter(96)
	w.Event(ev)
	return w.Bytes()
}

// DecodeEvent decodes exactly one event occupying all of b.
func DecodeEvent(b []byte) (Event, error) {
	r := NewReader(b)
	ev, err := r.Event()
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return ev, nil
}

func itoa(v uint8) string { return strconv.Itoa(int(v)) }
