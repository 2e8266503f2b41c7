package codec

// Outcome is the game-specific part of a Round. The concrete type is selected
// by Round.GameType; games without resolved fields carry no payload (nil).
type Outcome interface {
	outcomeGame() GameType
}

type FieldPaytable uint8

const (
	FieldStandard   FieldPaytable = iota // 2 and 12 pay 2:1
	FieldDouble12                        // 2 pays 2:1, 12 pays 3:1
	FieldTripleBoth                      // 2 and 12 pay 3:1
)

func (f FieldPaytable) Valid() bool { return f <= FieldTripleBoth }

type CrapsOutcome struct {
	MainPoint             uint8
	D1                    uint8
	D2                    uint8
	MadePointsMask        uint8
	EpochPointEstablished bool
	FieldPaytable         FieldPaytable
}

func (CrapsOutcome) outcomeGame() GameType { return GameCraps }

type RouletteOutcome struct {
	Pocket uint8
	Spun   bool
}

func (RouletteOutcome) outcomeGame() GameType { return GameRoulette }

func (w *Writer) outcome(g GameType, o Outcome) {
	if o != nil && o.outcomeGame() != g {
		w.fail("%s outcome on %s round", o.outcomeGame(), g)
		return
	}
	switch g {
	case GameCraps:
		c, _ := o.(CrapsOutcome)
		if !c.FieldPaytable.Valid() {
			w.fail("field paytable %d", c.FieldPaytable)
			return
		}
		w.U8(c.MainPoint)
		w.U8(c.D1)
		w.U8(c.D2)
		w.U8(c.MadePointsMask)
		w.Bool(c.EpochPointEstablished)
		w.U8(uint8(c.FieldPaytable))
	case GameRoulette:
		ro, _ := o.(RouletteOutcome)
		w.U8(ro.Pocket)
		w.Bool(ro.Spun)
	}
}

func (r *Reader) outcome(g GameType) (Outcome, error) {
	switch g {
	case GameCraps:
		var c CrapsOutcome
		var err error
		for _, f := range []*uint8{&c.MainPoint, &c.D1, &c.D2, &c.MadePointsMask} {
			if *f, err = r.U8(); err != nil {
				return nil, err
			}
		}
		if c.EpochPointEstablished, err = r.Bool(); err != nil {
			return nil, err
		}
		pt, err := r.U8()
		if err != nil {
			return nil, err
		}
		c.FieldPaytable = FieldPaytable(pt)
		if !c.FieldPaytable.Valid() {
			r.off--
			return nil, r.errf(KindInvalid, "field paytable %d", pt)
		}
		return c, nil
	case GameRoulette:
		var ro RouletteOutcome
		var err error
		if ro.Pocket, err = r.U8(); err != nil {
			return nil, err
		}
		if ro.Spun, err = r.Bool(); err != nil {
			return nil, err
		}
		return ro, nil
	default:
		return nil, nil
	}
}

// Round is the public round record carried by RoundOpened and Outcome events.
type Round struct {
	GameType    GameType
	RoundID     uint64
	Phase       Phase
	PhaseEndsAt uint64
	Outcome     Outcome
	RngCommit   []byte
	RollSeed    []byte
	Totals      []Total
}

func (r Round) Clone() Round {
	out := r
	out.RngCommit = cloneBytes(r.RngCommit)
	out.RollSeed = cloneBytes(r.RollSeed)
	if r.Totals != nil {
		out.Totals = append([]Total(nil), r.Totals...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (w *Writer) Round(r Round) {
	w.GameType(r.GameType)
	w.U64(r.RoundID)
	w.Phase(r.Phase)
	w.U64(r.PhaseEndsAt)
	w.outcome(r.GameType, r.Outcome)
	w.Digest(r.RngCommit)
	w.Digest(r.RollSeed)
	w.Totals(r.Totals)
}

func (r *Reader) Round() (Round, error) {
	var out Round
	var err error
	if out.GameType, err = r.GameType(); err != nil {
		return out, err
	}
	if out.RoundID, err = r.U64(); err != nil {
		return out, err
	}
	if out.Phase, err = r.Phase(); err != nil {
		return out, err
	}
	if out.PhaseEndsAt, err = r.U64(); err != nil {
		return out, err
	}
	if out.Outcome, err = r.outcome(out.GameType); err != nil {
		return out, err
	}
	if out.RngCommit, err = r.Digest(); err != nil {
		return out, err
	}
	if out.RollSeed, err = r.Digest(); err != nil {
		return out, err
	}
	out.Totals, err = r.Totals()
	return out, err
}

func EncodeRound(r Round) ([]byte, error) {
	w := NewWriter(128)
	w.Round(r)
	return w.Bytes()
}

func DecodeRound(b []byte) (Round, error) {
	r := NewReader(b)
	out, err := r.Round()
	if err != nil {
		return Round{}, err
	}
	return out, r.Done()
}
