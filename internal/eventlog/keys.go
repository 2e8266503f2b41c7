package eventlog

import (
	"encoding/binary"

	"globaltable/internal/codec"
)

var (
	RecordPrefix     = []byte{0x01}
	SnapshotPrefix   = []byte{0x02}
	SettlementPrefix = []byte{0x03}
	LastSeqPrefix    = []byte{0x04}
)

func RecordKey(g codec.GameType, seq uint64) []byte {
	return append([]byte{RecordPrefix[0], uint8(g)}, u64be(seq)...)
}

// recordRange is the [start, end) iterator domain of a game's records after seq.
func recordRange(g codec.GameType, after uint64) ([]byte, []byte) {
	return RecordKey(g, after+1), []byte{RecordPrefix[0], uint8(g) + 1}
}

func SnapshotKey(g codec.GameType) []byte {
	return []byte{SnapshotPrefix[0], uint8(g)}
}

func SettlementKey(g codec.GameType, roundID uint64, p codec.Player) []byte {
	k := append([]byte{SettlementPrefix[0], uint8(g)}, u64be(roundID)...)
	return append(k, p[:]...)
}

func LastSeqKey(g codec.GameType) []byte {
	return []byte{LastSeqPrefix[0], uint8(g)}
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
