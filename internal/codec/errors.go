package codec

import "fmt"

// ErrorKind classifies a decode failure. Callers treat every kind the same way
// (discard the message) but log the kind for diagnosis.
type ErrorKind uint8

const (
	KindTruncated ErrorKind = iota + 1
	KindUnknownTag
	KindOversize
	KindInvalid
	KindTrailing
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindUnknownTag:
		return "unknown tag"
	case KindOversize:
		return "oversize"
	case KindInvalid:
		return "invalid"
	case KindTrailing:
		return "trailing bytes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DecodeError is returned by every decoder in this package.
type DecodeError struct {
	Kind   ErrorKind
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

// Is matches on Kind only, so errors.Is(err, codec.ErrTruncated) works for any
// truncation regardless of offset.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTruncated  = &DecodeError{Kind: KindTruncated}
	ErrUnknownTag = &DecodeError{Kind: KindUnknownTag}
	ErrOversize   = &DecodeError{Kind: KindOversize}
	ErrInvalid    = &DecodeError{Kind: KindInvalid}
	ErrTrailing   = &DecodeError{Kind: KindTrailing}
)

// EncodeError reports a value that cannot be represented on the wire.
type EncodeError struct {
	Msg string
}

func (e *EncodeError) Error() string { return "encode: " + e.Msg }
