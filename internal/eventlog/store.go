package eventlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"

	"globaltable/internal/codec"
)

const codespace = "eventlog"

var (
	ErrSequenceGap        = errorsmod.Register(codespace, 1, "event sequence gap")
	ErrCorruptRecord      = errorsmod.Register(codespace, 2, "corrupt log record")
	ErrSnapshotUnreadable = errorsmod.Register(codespace, 3, "snapshot unreadable")
	ErrReplayBudget       = errorsmod.Register(codespace, 4, "replay exceeded time budget")
)

const replayPageSize = 200

// Store is the durable write-ahead log, snapshot store and settlement archive
// for every table, kept in one key-value database.
type Store struct {
	db     dbm.DB
	logger log.Logger

	mu      sync.Mutex
	lastSeq map[codec.GameType]uint64
}

func New(db dbm.DB, logger log.Logger) *Store {
	if db == nil {
		panic("eventlog: db is nil")
	}
	return &Store{
		db:      db,
		logger:  logger.With("module", "eventlog"),
		lastSeq: make(map[codec.GameType]uint64),
	}
}

// OpenDir opens (or creates) a goleveldb-backed store under dir.
func OpenDir(dir string, logger log.Logger) (*Store, error) {
	db, err := dbm.NewDB("eventlog", dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, err
	}
	return New(db, logger), nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LastSeq(g codec.GameType) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeqLocked(g)
}

func (s *Store) lastSeqLocked(g codec.GameType) (uint64, error) {
	if v, ok := s.lastSeq[g]; ok {
		return v, nil
	}
	bz, err := s.db.Get(LastSeqKey(g))
	if err != nil {
		return 0, err
	}
	var v uint64
	if bz != nil {
		if len(bz) != 8 {
			return 0, errorsmod.Wrap(ErrCorruptRecord, "invalid last seq encoding")
		}
		v = binary.BigEndian.Uint64(bz)
	}
	s.lastSeq[g] = v
	return v, nil
}

// Append durably writes recs for one game as a single synced batch and
// returns them with their assigned sequence numbers. Nothing is visible to
// readers unless the whole batch is written.
func (s *Store) Append(ctx context.Context, g codec.GameType, recs ...Record) ([]Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastSeqLocked(g)
	if err != nil {
		return nil, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	out := make([]Record, len(recs))
	for i, rec := range recs {
		rec.Seq = last + uint64(i) + 1
		rec.Game = g
		bz, err := encodeRecord(rec)
		if err != nil {
			return nil, errorsmod.Wrapf(ErrCorruptRecord, "encode %s: %v", rec.Kind, err)
		}
		if err := batch.Set(RecordKey(g, rec.Seq), bz); err != nil {
			return nil, err
		}
		out[i] = rec
	}
	newLast := last + uint64(len(recs))
	if err := batch.Set(LastSeqKey(g), u64be(newLast)); err != nil {
		return nil, err
	}
	if err := batch.WriteSync(); err != nil {
		return nil, err
	}
	s.lastSeq[g] = newLast
	return out, nil
}

// Entries returns up to limit records of g with seq > after, in order.
func (s *Store) Entries(g codec.GameType, after uint64, limit int) ([]Record, error) {
	start, end := recordRange(g, after)
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Record
	for ; it.Valid() && len(out) < limit; it.Next() {
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return nil, errorsmod.Wrapf(ErrCorruptRecord, "key %x: %v", it.Key(), err)
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

// LastRoundID scans the log of g backwards for the most recent round it
// opened or aborted. It returns 0 when the log holds no round.
func (s *Store) LastRoundID(g codec.GameType) (uint64, error) {
	start, end := recordRange(g, 0)
	it, err := s.db.ReverseIterator(start, end)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return 0, errorsmod.Wrapf(ErrCorruptRecord, "key %x: %v", it.Key(), err)
		}
		switch rec.Kind {
		case KindRoundOpened:
			ev, err := rec.Event()
			if err != nil {
				return 0, errorsmod.Wrapf(ErrCorruptRecord, "seq %d: %v", rec.Seq, err)
			}
			return ev.(codec.RoundOpened).Round.RoundID, nil
		case KindRoundAborted:
			if len(rec.Body) != 8 {
				return 0, errorsmod.Wrapf(ErrCorruptRecord, "seq %d: abort body", rec.Seq)
			}
			return binary.BigEndian.Uint64(rec.Body), nil
		}
	}
	return 0, it.Error()
}

// SaveSnapshot stores state as the latest snapshot of g, covering the log up
// to and including seq. A checksum guards against torn writes.
func (s *Store) SaveSnapshot(ctx context.Context, g codec.GameType, seq uint64, state []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sum := sha256.Sum256(state)
	bz := make([]byte, 0, 8+len(state)+len(sum))
	bz = append(bz, u64be(seq)...)
	bz = append(bz, sum[:]...)
	bz = append(bz, state...)
	return s.db.SetSync(SnapshotKey(g), bz)
}

// LoadSnapshot returns found=false when no snapshot was ever written.
func (s *Store) LoadSnapshot(g codec.GameType) (seq uint64, state []byte, found bool, err error) {
	bz, err := s.db.Get(SnapshotKey(g))
	if err != nil {
		return 0, nil, false, errorsmod.Wrap(ErrSnapshotUnreadable, err.Error())
	}
	if bz == nil {
		return 0, nil, false, nil
	}
	if len(bz) < 8+sha256.Size {
		return 0, nil, false, errorsmod.Wrap(ErrSnapshotUnreadable, "short snapshot")
	}
	seq = binary.BigEndian.Uint64(bz[:8])
	sum := bz[8 : 8+sha256.Size]
	state = bz[8+sha256.Size:]
	got := sha256.Sum256(state)
	if !bytes.Equal(got[:], sum) {
		return 0, nil, false, errorsmod.Wrap(ErrSnapshotUnreadable, "checksum mismatch")
	}
	return seq, append([]byte(nil), state...), true, nil
}

func (s *Store) PutSettlement(g codec.GameType, roundID uint64, p codec.Player, rec []byte) error {
	return s.db.SetSync(SettlementKey(g, roundID, p), rec)
}

// GetSettlement returns nil when the player has no settlement for the round.
func (s *Store) GetSettlement(g codec.GameType, roundID uint64, p codec.Player) ([]byte, error) {
	return s.db.Get(SettlementKey(g, roundID, p))
}

// Report summarizes one recovery.
type Report struct {
	SnapshotSeq   uint64
	SnapshotFound bool
	SnapshotErr   error
	Replayed      int
	LastSeq       uint64
	Elapsed       time.Duration
}

// Recover restores g by handing the latest snapshot to restore and then every
// later record, in sequence order, to apply. An unreadable snapshot falls back
// to replaying from the first record. When budget (if > 0) runs out the
// partial replay is abandoned with ErrReplayBudget; the caller decides how to
// fall back.
func (s *Store) Recover(
	ctx context.Context,
	g codec.GameType,
	budget time.Duration,
	restore func(state []byte) error,
	apply func(Record) error,
) (Report, error) {
	start := time.Now()
	var rep Report

	seq, state, found, err := s.LoadSnapshot(g)
	switch {
	case err != nil:
		rep.SnapshotErr = err
		s.logger.Error("snapshot unreadable; replaying full log", "game", g.String(), "err", err)
	case found:
		if err := restore(state); err != nil {
			rep.SnapshotErr = errorsmod.Wrap(ErrSnapshotUnreadable, err.Error())
			s.logger.Error("snapshot rejected; replaying full log", "game", g.String(), "err", err)
		} else {
			rep.SnapshotFound = true
			rep.SnapshotSeq = seq
		}
	}

	after := rep.SnapshotSeq
	for {
		page, err := s.Entries(g, after, replayPageSize)
		if err != nil {
			return rep, err
		}
		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if budget > 0 && time.Since(start) >= budget {
				rep.Elapsed = time.Since(start)
				return rep, errorsmod.Wrapf(ErrReplayBudget, "replayed %d records in %s", rep.Replayed, rep.Elapsed)
			}
			if rec.Seq != after+1 {
				return rep, errorsmod.Wrapf(ErrSequenceGap, "expected %d got %d", after+1, rec.Seq)
			}
			if err := apply(rec); err != nil {
				return rep, errorsmod.Wrapf(ErrCorruptRecord, "seq %d (%s): %v", rec.Seq, rec.Kind, err)
			}
			after = rec.Seq
			rep.Replayed++
		}
		if len(page) < replayPageSize {
			break
		}
	}
	rep.LastSeq = after
	rep.Elapsed = time.Since(start)
	return rep, nil
}
