package codec

// InstructionTag identifies a client → engine instruction.
type InstructionTag uint8

const (
	TagInit       InstructionTag = 60
	TagOpenRound  InstructionTag = 61
	TagSubmitBets InstructionTag = 62
	TagLock       InstructionTag = 63
	TagReveal     InstructionTag = 64
	TagSettle     InstructionTag = 65
	TagFinalize   InstructionTag = 66
)

func (t InstructionTag) String() string {
	switch t {
	case TagInit:
		return "init"
	case TagOpenRound:
		return "open_round"
	case TagSubmitBets:
		return "submit_bets"
	case TagLock:
		return "lock"
	case TagReveal:
		return "reveal"
	case TagSettle:
		return "settle"
	case TagFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

type Instruction interface {
	Tag() InstructionTag
	Game() GameType
}

// Init installs or replaces a table configuration.
type Init struct {
	Config TableConfig
}

func (Init) Tag() InstructionTag { return TagInit }
func (i Init) Game() GameType    { return i.Config.GameType }

type OpenRound struct {
	GameType GameType
}

func (OpenRound) Tag() InstructionTag { return TagOpenRound }
func (i OpenRound) Game() GameType    { return i.GameType }

type SubmitBets struct {
	GameType GameType
	RoundID  uint64
	Bets     []Bet
}

func (SubmitBets) Tag() InstructionTag { return TagSubmitBets }
func (i SubmitBets) Game() GameType    { return i.GameType }

// RoundStep is one of Lock, Reveal, Settle or Finalize; all four share a layout.
type RoundStep struct {
	Step     InstructionTag
	GameType GameType
	RoundID  uint64
}

func (i RoundStep) Tag() InstructionTag { return i.Step }
func (i RoundStep) Game() GameType      { return i.GameType }

func EncodeInstruction(in Instruction) ([]byte, error) {
	w := NewWriter(32)
	w.U8(uint8(in.Tag()))
	switch v := in.(type) {
	case Init:
		w.TableConfig(v.Config)
	case OpenRound:
		w.GameType(v.GameType)
	case SubmitBets:
		w.GameType(v.GameType)
		w.U64(v.RoundID)
		w.Bets(v.Bets)
	case RoundStep:
		if v.Step < TagLock || v.Step > TagFinalize {
			w.fail("round step tag %d", v.Step)
		}
		w.GameType(v.GameType)
		w.U64(v.RoundID)
	default:
		w.fail("unsupported instruction %T", in)
	}
	return w.Bytes()
}

// DecodeInstruction decodes exactly one instruction occupying all of b.
func DecodeInstruction(b []byte) (Instruction, error) {
	r := NewReader(b)
	tag, err := r.U8()
	if err != nil {
		return nil, err
	}
	var in Instruction
	switch InstructionTag(tag) {
	case TagInit:
		cfg, err := r.TableConfig()
		if err != nil {
			return nil, err
		}
		in = Init{Config: cfg}
	case TagOpenRound:
		g, err := r.GameType()
		if err != nil {
			return nil, err
		}
		in = OpenRound{GameType: g}
	case TagSubmitBets:
		var sb SubmitBets
		if sb.GameType, err = r.GameType(); err != nil {
			return nil, err
		}
		if sb.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		if sb.Bets, err = r.Bets(); err != nil {
			return nil, err
		}
		in = sb
	case TagLock, TagReveal, TagSettle, TagFinalize:
		st := RoundStep{Step: InstructionTag(tag)}
		if st.GameType, err = r.GameType(); err != nil {
			return nil, err
		}
		if st.RoundID, err = r.U64(); err != nil {
			return nil, err
		}
		in = st
	default:
		return nil, &DecodeError{Kind: KindUnknownTag, Offset: 0, Msg: "instruction tag " + itoa(tag)}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return in, nil
}
