package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/rng"
)

const (
	snapshotVersion = 1
	maxSnapPlayers  = 1 << 20
	maxSnapKeys     = codec.MaxBets
)

// Replayer is the part of the event log recovery needs.
type Replayer interface {
	Recover(ctx context.Context, g codec.GameType, budget time.Duration, restore func([]byte) error, apply func(eventlog.Record) error) (eventlog.Report, error)
	LastRoundID(g codec.GameType) (uint64, error)
}

func (m *Machine) snapshot(ctx context.Context) {
	state, err := m.encodeState()
	if err == nil {
		err = m.journal.SaveSnapshot(ctx, m.gameType, m.lastSeq, state)
	}
	if err != nil {
		// replay from the previous snapshot still works
		m.logger.Error("snapshot failed", "seq", m.lastSeq, "err", err)
		return
	}
	m.logger.Debug("snapshot saved", "seq", m.lastSeq, "bytes", len(state))
}

func sortedPlayers[V any](set map[codec.Player]V) []codec.Player {
	out := make([]codec.Player, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return lessPlayer(out[i], out[j]) })
	return out
}

func (m *Machine) encodeState() ([]byte, error) {
	w := codec.NewWriter(512)
	w.U8(snapshotVersion)
	w.TableConfig(m.cfg)
	w.Bool(m.staged != nil)
	if m.staged != nil {
		w.TableConfig(*m.staged)
	}
	w.Bool(m.started)
	w.Round(m.round)
	for _, v := range []uint64{m.openedAt, m.softLockAt, m.lockedAt, m.stallSince, m.resolvingAt, m.settlingAt, m.nextOpenAt, m.commitment.TargetView} {
		w.U64(v)
	}

	w.Varint(uint64(len(m.bets)))
	for _, p := range sortedPlayers(m.bets) {
		pb := m.bets[p]
		w.Player(p)
		w.Bets(pb.bets)
		w.U64(pb.stake)
		w.Balance(pb.balance)
		w.Varint(uint64(len(pb.keys)))
		for _, k := range pb.keys {
			w.String(k, MaxKeyLen)
		}
	}

	w.Varint(uint64(len(m.settled)))
	for _, p := range sortedPlayers(m.settled) {
		bz, err := encodeSettlement(m.settled[p])
		if err != nil {
			return nil, err
		}
		w.Blob(bz, 1<<16)
	}

	w.Varint(uint64(len(m.attempts)))
	for _, p := range sortedPlayers(m.attempts) {
		w.Player(p)
		w.U32(uint32(m.attempts[p]))
	}

	w.Varint(uint64(len(m.order)))
	for _, p := range m.order {
		w.Player(p)
	}
	w.Varint(uint64(m.cursor))
	w.Bool(m.aborted)
	w.Bool(m.paused)
	w.String(m.pauseReason, codec.MaxMessageLen)
	w.U64(m.finalizedRounds)
	w.U64(m.lastSeq)
	return w.Bytes()
}

type machineState struct {
	cfg        codec.TableConfig
	staged     *codec.TableConfig
	started    bool
	round      codec.Round
	times      [7]uint64
	targetView uint64

	bets     map[codec.Player]*playerBets
	seen     map[seenKey]struct{}
	settled  map[codec.Player]SettlementRecord
	attempts map[codec.Player]int
	order    []codec.Player
	cursor   int

	aborted         bool
	paused          bool
	pauseReason     string
	finalizedRounds uint64
	lastSeq         uint64
}

func decodeState(b []byte) (*machineState, error) {
	r := codec.NewReader(b)
	v, err := r.U8()
	if err != nil {
		return nil, err
	}
	if v != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d", v)
	}
	st := &machineState{
		bets:     make(map[codec.Player]*playerBets),
		seen:     make(map[seenKey]struct{}),
		settled:  make(map[codec.Player]SettlementRecord),
		attempts: make(map[codec.Player]int),
	}
	if st.cfg, err = r.TableConfig(); err != nil {
		return nil, err
	}
	hasStaged, err := r.Bool()
	if err != nil {
		return nil, err
	}
	if hasStaged {
		cfg, err := r.TableConfig()
		if err != nil {
			return nil, err
		}
		st.staged = &cfg
	}
	if st.started, err = r.Bool(); err != nil {
		return nil, err
	}
	if st.round, err = r.Round(); err != nil {
		return nil, err
	}
	for i := range st.times {
		if st.times[i], err = r.U64(); err != nil {
			return nil, err
		}
	}
	if st.targetView, err = r.U64(); err != nil {
		return nil, err
	}

	n, err := r.Len(maxSnapPlayers, 33)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		p, err := r.Player()
		if err != nil {
			return nil, err
		}
		pb := &playerBets{}
		if pb.bets, err = r.Bets(); err != nil {
			return nil, err
		}
		if pb.stake, err = r.U64(); err != nil {
			return nil, err
		}
		if pb.balance, err = r.Balance(); err != nil {
			return nil, err
		}
		nk, err := r.Len(maxSnapKeys, 1)
		if err != nil {
			return nil, err
		}
		for j := 0; j < nk; j++ {
			k, err := r.String(MaxKeyLen)
			if err != nil {
				return nil, err
			}
			pb.keys = append(pb.keys, k)
			st.seen[seenKey{player: p, roundID: st.round.RoundID, key: k}] = struct{}{}
		}
		st.bets[p] = pb
	}

	if n, err = r.Len(maxSnapPlayers, 33); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		bz, err := r.Blob(1 << 16)
		if err != nil {
			return nil, err
		}
		sr, err := decodeSettlement(bz)
		if err != nil {
			return nil, err
		}
		st.settled[sr.Player] = sr
	}

	if n, err = r.Len(maxSnapPlayers, 36); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		p, err := r.Player()
		if err != nil {
			return nil, err
		}
		a, err := r.U32()
		if err != nil {
			return nil, err
		}
		st.attempts[p] = int(a)
	}

	if n, err = r.Len(maxSnapPlayers, 32); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		p, err := r.Player()
		if err != nil {
			return nil, err
		}
		st.order = append(st.order, p)
	}
	cursor, err := r.Varint()
	if err != nil {
		return nil, err
	}
	if n > 0 && cursor >= uint64(n) || n == 0 && cursor != 0 {
		return nil, fmt.Errorf("settle cursor %d of %d", cursor, n)
	}
	st.cursor = int(cursor)
	if st.aborted, err = r.Bool(); err != nil {
		return nil, err
	}
	if st.paused, err = r.Bool(); err != nil {
		return nil, err
	}
	if st.pauseReason, err = r.String(codec.MaxMessageLen); err != nil {
		return nil, err
	}
	if st.finalizedRounds, err = r.U64(); err != nil {
		return nil, err
	}
	if st.lastSeq, err = r.U64(); err != nil {
		return nil, err
	}
	return st, r.Done()
}

// restore replaces the machine state with a snapshot. A snapshot that does
// not decode leaves the machine untouched.
func (m *Machine) restore(b []byte) error {
	st, err := decodeState(b)
	if err != nil {
		return err
	}
	if st.cfg.GameType != m.gameType || st.round.GameType != m.gameType {
		return fmt.Errorf("snapshot of %s restored into %s table", st.round.GameType, m.gameType)
	}
	m.cfg = st.cfg
	m.staged = st.staged
	m.started = st.started
	m.round = st.round
	m.openedAt, m.softLockAt, m.lockedAt, m.stallSince = st.times[0], st.times[1], st.times[2], st.times[3]
	m.resolvingAt, m.settlingAt, m.nextOpenAt = st.times[4], st.times[5], st.times[6]
	m.commitment = rng.Commitment{}
	if st.targetView != 0 {
		m.commitment = rng.CommitAt(m.gameType, st.round.RoundID, st.targetView)
	}
	m.bets = st.bets
	m.seen = st.seen
	m.settled = st.settled
	m.attempts = st.attempts
	m.order = st.order
	m.cursor = st.cursor
	m.aborted = st.aborted
	m.paused = st.paused
	m.pauseReason = st.pauseReason
	m.finalizedRounds = st.finalizedRounds
	m.lastSeq = st.lastSeq
	return nil
}

// reset returns the machine to its never-started state under its current
// configuration.
func (m *Machine) reset() {
	m.staged = nil
	m.started = false
	m.round = codec.Round{GameType: m.gameType, Phase: codec.PhaseFinalized}
	m.openedAt, m.softLockAt, m.lockedAt, m.stallSince = 0, 0, 0, 0
	m.resolvingAt, m.settlingAt, m.nextOpenAt = 0, 0, 0
	m.aborted, m.paused, m.pauseReason = false, false, ""
	m.finalizedRounds, m.lastSeq = 0, 0
	m.resetRoundState()
}

// Recover rebuilds the machine from the log: the latest snapshot plus every
// later record. A rejected snapshot means a full replay, after which the
// table stays paused for an operator. If replay cannot finish within budget
// the in-flight round is aborted, voiding its bets, and the table pauses with
// everything rebuilt so far kept.
func (m *Machine) Recover(ctx context.Context, src Replayer, budget time.Duration, now uint64) (eventlog.Report, error) {
	rep, err := src.Recover(ctx, m.gameType, budget, m.restore, m.apply)
	switch {
	case err == nil:
	case errors.Is(err, eventlog.ErrReplayBudget):
		return rep, m.abortAfterBudget(ctx, src, now, err)
	default:
		m.reset()
		return rep, err
	}

	m.logger.Info("table recovered",
		"snapshot_seq", rep.SnapshotSeq,
		"replayed", rep.Replayed,
		"last_seq", rep.LastSeq,
		"round", m.round.RoundID,
		"phase", m.round.Phase.String(),
		"elapsed", rep.Elapsed,
	)
	if rep.SnapshotErr != nil {
		m.Pause(ctx, now, "recovered by full replay: "+rep.SnapshotErr.Error())
		return rep, nil
	}
	if m.paused {
		m.pub.SetHealth(m.gameType, true, m.pauseReason)
	}
	return rep, nil
}

// abortAfterBudget keeps what was rebuilt before the budget ran out (the
// snapshot and every record applied after it) and voids only the round in
// flight. Replay stops between records, so that state is consistent.
func (m *Machine) abortAfterBudget(ctx context.Context, src Replayer, now uint64, cause error) error {
	id, err := src.LastRoundID(m.gameType)
	if err != nil {
		return errorsmod.Wrapf(err, "abort after %v", cause)
	}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindRoundAborted, body: u64be(id)}); err != nil {
		return err
	}
	m.logger.Error("round aborted; settlements already paid for it need reconciliation", "round", id, "cause", cause)
	// supersedes any pause replayed before the budget ran out
	m.paused = false
	m.Pause(ctx, now, "replay budget exceeded: round "+itoa(id)+" aborted")
	// later recoveries start from here instead of hitting the same budget
	m.snapshot(ctx)
	return nil
}
