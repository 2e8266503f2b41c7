package codec

import (
	"encoding/binary"
	"fmt"
)

// Writer appends wire values to a growing buffer. The first value that cannot
// be represented is remembered and returned by Bytes; later writes are no-ops.
type Writer struct {
	buf []byte
	err error
}

func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (w *Writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = &EncodeError{Msg: fmt.Sprintf(format, args...)}
	}
}

func (w *Writer) U8(v uint8) {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
}

func (w *Writer) U32(v uint32) {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	}
}

func (w *Writer) U64(v uint64) {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint64(w.buf, v)
	}
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) Varint(v uint64) {
	if w.err == nil {
		w.buf = binary.AppendUvarint(w.buf, v)
	}
}

func (w *Writer) Blob(b []byte, max int) {
	if len(b) > max {
		w.fail("byte vector of %d exceeds limit %d", len(b), max)
		return
	}
	w.Varint(uint64(len(b)))
	if w.err == nil {
		w.buf = append(w.buf, b...)
	}
}

func (w *Writer) Digest(b []byte) {
	if len(b) != 0 && len(b) != DigestLen {
		w.fail("digest length %d", len(b))
		return
	}
	w.Blob(b, DigestLen)
}

func (w *Writer) String(s string, max int) { w.Blob([]byte(s), max) }

func (w *Writer) Player(p Player) {
	if w.err == nil {
		w.buf = append(w.buf, p[:]...)
	}
}

func (w *Writer) OptionU64(v *uint64) {
	w.Bool(v != nil)
	if v != nil {
		w.U64(*v)
	}
}

func (w *Writer) GameType(g GameType) {
	if !g.Valid() {
		w.fail("game type %d", uint8(g))
		return
	}
	w.U8(uint8(g))
}

func (w *Writer) Phase(p Phase) {
	if !p.Valid() {
		w.fail("phase %d", uint8(p))
		return
	}
	w.U8(uint8(p))
}

func (w *Writer) Bets(bets []Bet) {
	if len(bets) > MaxBets {
		w.fail("%d bets exceeds limit %d", len(bets), MaxBets)
		return
	}
	w.Varint(uint64(len(bets)))
	for _, b := range bets {
		w.U8(b.BetType)
		w.U8(b.Target)
		w.U64(b.Amount)
	}
}

func (w *Writer) Totals(totals []Total) {
	if len(totals) > MaxTotals {
		w.fail("%d totals exceeds limit %d", len(totals), MaxTotals)
		return
	}
	w.Varint(uint64(len(totals)))
	for _, t := range totals {
		w.U8(t.BetType)
		w.U8(t.Target)
		w.U64(t.Amount)
	}
}
