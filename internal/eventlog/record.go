package eventlog

import (
	"globaltable/internal/codec"
)

// Kind identifies a log record. Values 60–66 carry the matching wire event in
// Body; values from 0x80 are engine-internal and never sent to gateways.
type Kind uint8

const (
	KindRoundOpened   = Kind(codec.TagRoundOpened)
	KindBetAccepted   = Kind(codec.TagBetAccepted)
	KindBetRejected   = Kind(codec.TagBetRejected)
	KindLocked        = Kind(codec.TagLocked)
	KindOutcome       = Kind(codec.TagOutcome)
	KindPlayerSettled = Kind(codec.TagPlayerSettled)
	KindFinalized     = Kind(codec.TagFinalized)

	KindPaused           Kind = 0x80
	KindResumed          Kind = 0x81
	KindSettlementFailed Kind = 0x82
	KindRoundAborted     Kind = 0x83
	KindConfigStaged     Kind = 0x84
	KindPhaseAdvanced    Kind = 0x85
)

func (k Kind) IsEvent() bool {
	return k >= KindRoundOpened && k <= KindFinalized
}

func (k Kind) String() string {
	if k.IsEvent() {
		return codec.EventTag(k).String()
	}
	switch k {
	case KindPaused:
		return "paused"
	case KindResumed:
		return "resumed"
	case KindSettlementFailed:
		return "settlement_failed"
	case KindRoundAborted:
		return "round_aborted"
	case KindConfigStaged:
		return "config_staged"
	case KindPhaseAdvanced:
		return "phase_advanced"
	default:
		return "unknown"
	}
}

const (
	maxBodyLen = 1 << 16
	maxAuxLen  = 1 << 10
)

// Record is one entry of a table's write-ahead log. Aux carries data needed
// for replay that the wire event does not (for example the idempotency key of
// an accepted bet).
type Record struct {
	Seq  uint64
	Game codec.GameType
	AtMs uint64
	Kind Kind
	Body []byte
	Aux  []byte
}

// Event decodes Body for event kinds.
func (r Record) Event() (codec.Event, error) {
	if !r.Kind.IsEvent() {
		return nil, &codec.DecodeError{Kind: codec.KindInvalid, Msg: "record kind " + r.Kind.String() + " has no event"}
	}
	return codec.DecodeEvent(r.Body)
}

func encodeRecord(r Record) ([]byte, error) {
	w := codec.NewWriter(32 + len(r.Body) + len(r.Aux))
	w.U64(r.Seq)
	w.GameType(r.Game)
	w.U64(r.AtMs)
	w.U8(uint8(r.Kind))
	w.Blob(r.Body, maxBodyLen)
	w.Blob(r.Aux, maxAuxLen)
	return w.Bytes()
}

func decodeRecord(b []byte) (Record, error) {
	rd := codec.NewReader(b)
	var r Record
	var err error
	if r.Seq, err = rd.U64(); err != nil {
		return r, err
	}
	if r.Game, err = rd.GameType(); err != nil {
		return r, err
	}
	if r.AtMs, err = rd.U64(); err != nil {
		return r, err
	}
	k, err := rd.U8()
	if err != nil {
		return r, err
	}
	r.Kind = Kind(k)
	if r.Body, err = rd.Blob(maxBodyLen); err != nil {
		return r, err
	}
	if r.Aux, err = rd.Blob(maxAuxLen); err != nil {
		return r, err
	}
	return r, rd.Done()
}
