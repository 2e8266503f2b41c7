package codec

import "errors"

// Subsystem identifiers for frames sharing one transaction or stream.
const (
	SubsystemAuth        uint8 = 0
	SubsystemGlobalTable uint8 = 6
)

const (
	FrameVersion    uint8 = 1
	MaxFramePayload       = 1 << 20
)

// Frame is a self-delimiting unit: subsystem, schema version, then a
// length-prefixed payload. A reader skips frames it does not own by length
// alone, without knowing their contents.
type Frame struct {
	Subsystem uint8
	Version   uint8
	Payload   []byte
}

func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if len(f.Payload) > MaxFramePayload {
		return dst, &EncodeError{Msg: "frame payload too large"}
	}
	w := Writer{buf: dst}
	w.U8(f.Subsystem)
	w.U8(f.Version)
	w.Blob(f.Payload, MaxFramePayload)
	return w.Bytes()
}

// ReadFrame decodes the frame at the start of b and returns the number of
// bytes it occupied. The payload aliases b.
func ReadFrame(b []byte) (Frame, int, error) {
	r := NewReader(b)
	var f Frame
	var err error
	if f.Subsystem, err = r.U8(); err != nil {
		return f, 0, err
	}
	if f.Version, err = r.U8(); err != nil {
		return f, 0, err
	}
	n, err := r.Len(MaxFramePayload, 1)
	if err != nil {
		return f, 0, err
	}
	if f.Payload, err = r.take(n); err != nil {
		return f, 0, err
	}
	return f, r.Offset(), nil
}

// SplitFrames walks a buffer of concatenated frames and returns those owned by
// subsystem. A malformed frame anywhere fails the whole buffer.
func SplitFrames(b []byte, subsystem uint8) ([]Frame, error) {
	var out []Frame
	off := 0
	for off < len(b) {
		f, n, err := ReadFrame(b[off:])
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.Offset += off
			}
			return nil, err
		}
		off += n
		if f.Subsystem == subsystem {
			out = append(out, f)
		}
	}
	return out, nil
}

// EncodeInstructionFrame wraps one Global Table instruction in a frame.
func EncodeInstructionFrame(dst []byte, in Instruction) ([]byte, error) {
	payload, err := EncodeInstruction(in)
	if err != nil {
		return dst, err
	}
	return AppendFrame(dst, Frame{Subsystem: SubsystemGlobalTable, Version: FrameVersion, Payload: payload})
}

// DecodeInstructionFrames returns every Global Table instruction in b. Frames
// of an unsupported version are rejected rather than guessed at.
func DecodeInstructionFrames(b []byte) ([]Instruction, error) {
	frames, err := SplitFrames(b, SubsystemGlobalTable)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(frames))
	for _, f := range frames {
		if f.Version != FrameVersion {
			return nil, &DecodeError{Kind: KindInvalid, Msg: "frame version " + itoa(f.Version)}
		}
		in, err := DecodeInstruction(f.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}
