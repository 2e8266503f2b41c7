package codec

import (
	"encoding/binary"
	"fmt"
)

// Reader is a bounds-checked cursor over an untrusted buffer. No method
// panics; every failure is a *DecodeError carrying the offending offset.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) errf(kind ErrorKind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Offset: r.off, Msg: fmt.Sprintf(format, args...)}
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, r.errf(KindInvalid, "negative length")
	}
	if n > r.Remaining() {
		return nil, r.errf(KindTruncated, "need %d bytes, have %d", n, r.Remaining())
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		r.off--
		return false, r.errf(KindInvalid, "bool byte %d", v)
	}
}

// Varint reads a canonical LEB128 unsigned integer of at most 10 bytes.
func (r *Reader) Varint() (uint64, error) {
	start := r.off
	var v uint64
	for i := 0; i < MaxVarintLen; i++ {
		c, err := r.U8()
		if err != nil {
			return 0, err
		}
		if i == MaxVarintLen-1 && c > 1 {
			r.off = start
			return 0, r.errf(KindOversize, "varint overflows u64")
		}
		v |= uint64(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			if c == 0 && i > 0 {
				r.off = start
				return 0, r.errf(KindInvalid, "non-minimal varint")
			}
			return v, nil
		}
	}
	r.off = start
	return 0, r.errf(KindOversize, "varint longer than %d bytes", MaxVarintLen)
}

// Len reads a varint element count and checks it against max and against the
// bytes left in the buffer (each element occupies at least elemSize bytes)
// before anything is allocated.
func (r *Reader) Len(max int, elemSize int) (int, error) {
	start := r.off
	n, err := r.Varint()
	if err != nil {
		return 0, err
	}
	if n > uint64(max) {
		r.off = start
		return 0, r.errf(KindOversize, "length %d exceeds limit %d", n, max)
	}
	if elemSize > 0 && n > uint64(r.Remaining()/elemSize) {
		r.off = start
		return 0, r.errf(KindTruncated, "length %d exceeds remaining buffer", n)
	}
	return int(n), nil
}

// Blob reads a length-prefixed byte vector and returns a copy.
func (r *Reader) Blob(max int) ([]byte, error) {
	n, err := r.Len(max, 1)
	if err != nil || n == 0 {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Digest reads a length-prefixed vector that must be empty or 32 bytes.
func (r *Reader) Digest() ([]byte, error) {
	start := r.off
	b, err := r.Blob(DigestLen)
	if err != nil {
		return nil, err
	}
	if len(b) != 0 && len(b) != DigestLen {
		r.off = start
		return nil, r.errf(KindInvalid, "digest length %d", len(b))
	}
	return b, nil
}

func (r *Reader) String(max int) (string, error) {
	b, err := r.Blob(max)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) Player() (Player, error) {
	var p Player
	b, err := r.take(len(p))
	if err != nil {
		return p, err
	}
	copy(p[:], b)
	return p, nil
}

func (r *Reader) OptionU64() (*uint64, error) {
	some, err := r.Bool()
	if err != nil || !some {
		return nil, err
	}
	v, err := r.U64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) GameType() (GameType, error) {
	v, err := r.U8()
	if err != nil {
		return 0, err
	}
	g := GameType(v)
	if !g.Valid() {
		r.off--
		return 0, r.errf(KindInvalid, "game type %d", v)
	}
	return g, nil
}

func (r *Reader) Phase() (Phase, error) {
	v, err := r.U8()
	if err != nil {
		return 0, err
	}
	p := Phase(v)
	if !p.Valid() {
		r.off--
		return 0, r.errf(KindInvalid, "phase %d", v)
	}
	return p, nil
}

func (r *Reader) Bets() ([]Bet, error) {
	n, err := r.Len(MaxBets, betWireLen)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]Bet, n)
	for i := range out {
		if out[i], err = r.bet(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) Totals() ([]Total, error) {
	n, err := r.Len(MaxTotals, betWireLen)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]Total, n)
	for i := range out {
		b, err := r.bet()
		if err != nil {
			return nil, err
		}
		out[i] = Total(b)
	}
	return out, nil
}

func (r *Reader) bet() (Bet, error) {
	var b Bet
	var err error
	if b.BetType, err = r.U8(); err != nil {
		return b, err
	}
	if b.Target, err = r.U8(); err != nil {
		return b, err
	}
	b.Amount, err = r.U64()
	return b, err
}

// Done fails if unread bytes remain.
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return r.errf(KindTrailing, "%d unread bytes", r.Remaining())
	}
	return nil
}
