package table

import (
	"context"
	"crypto/sha256"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/cenkalti/backoff/v4"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/ledger"
)

type SettlementStatus uint8

const (
	StatusSettled                SettlementStatus = 1
	StatusReconciliationRequired SettlementStatus = 2
)

func (s SettlementStatus) String() string {
	if s == StatusSettled {
		return "settled"
	}
	return "reconciliation_required"
}

type SettlementRecord struct {
	Player  codec.Player
	RoundID uint64
	Payout  int64
	Balance codec.BalanceSnapshot
	Bets    []codec.Bet
	Status  SettlementStatus
	Reason  string
}

// SettlementKey is the ledger idempotency key of (player, round).
func SettlementKey(g codec.GameType, roundID uint64, p codec.Player) []byte {
	h := sha256.New()
	_, _ = h.Write([]byte("gtable/v1/settle"))
	_, _ = h.Write([]byte{uint8(g)})
	_, _ = h.Write(u64be(roundID))
	_, _ = h.Write(p[:])
	return h.Sum(nil)
}

func encodeSettlement(sr SettlementRecord) ([]byte, error) {
	w := codec.NewWriter(96)
	w.Player(sr.Player)
	w.U64(sr.RoundID)
	w.I64(sr.Payout)
	w.Balance(sr.Balance)
	w.Bets(sr.Bets)
	w.U8(uint8(sr.Status))
	w.String(sr.Reason, codec.MaxMessageLen)
	return w.Bytes()
}

func readSettlement(r *codec.Reader) (SettlementRecord, error) {
	var sr SettlementRecord
	var err error
	if sr.Player, err = r.Player(); err != nil {
		return sr, err
	}
	if sr.RoundID, err = r.U64(); err != nil {
		return sr, err
	}
	if sr.Payout, err = r.I64(); err != nil {
		return sr, err
	}
	if sr.Balance, err = r.Balance(); err != nil {
		return sr, err
	}
	if sr.Bets, err = r.Bets(); err != nil {
		return sr, err
	}
	st, err := r.U8()
	if err != nil {
		return sr, err
	}
	sr.Status = SettlementStatus(st)
	sr.Reason, err = r.String(codec.MaxMessageLen)
	return sr, err
}

func decodeSettlement(b []byte) (SettlementRecord, error) {
	r := codec.NewReader(b)
	sr, err := readSettlement(r)
	if err != nil {
		return sr, err
	}
	return sr, r.Done()
}

// SettleSlice settles each listed player of the current round who has bets and
// no record yet. Players already settled return their existing record without
// touching the ledger. A player whose ledger call keeps failing transiently is
// left for a later slice.
func (m *Machine) SettleSlice(ctx context.Context, now uint64, roundID uint64, players []codec.Player) ([]SettlementRecord, error) {
	if roundID != m.round.RoundID || !m.started {
		return m.archivedSettlements(roundID, players)
	}
	if m.round.Phase != codec.PhaseSettling {
		if m.round.Phase == codec.PhaseFinalized {
			return m.archivedSettlements(roundID, players)
		}
		return nil, errorsmod.Wrapf(ErrNotDue, "round %d is %s", roundID, m.round.Phase)
	}
	if len(players) > m.opts.SettleSlice {
		players = players[:m.opts.SettleSlice]
	}

	var out []SettlementRecord
	for _, p := range players {
		if sr, ok := m.settled[p]; ok {
			out = append(out, sr)
			continue
		}
		pb, ok := m.bets[p]
		if !ok {
			continue
		}
		sr, err := m.settleOne(ctx, now, p, pb)
		if err != nil {
			return out, err
		}
		if sr != nil {
			out = append(out, *sr)
		}
	}
	return out, nil
}

func (m *Machine) archivedSettlements(roundID uint64, players []codec.Player) ([]SettlementRecord, error) {
	var out []SettlementRecord
	for _, p := range players {
		bz, err := m.journal.GetSettlement(m.gameType, roundID, p)
		if err != nil {
			return out, err
		}
		if bz == nil {
			continue
		}
		sr, err := decodeSettlement(bz)
		if err != nil {
			return out, err
		}
		out = append(out, sr)
	}
	return out, nil
}

func (m *Machine) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, m.opts.LedgerRetries), ctx)
}

func (m *Machine) settleOne(ctx context.Context, now uint64, p codec.Player, pb *playerBets) (*SettlementRecord, error) {
	payout, err := m.game.Payout(m.round.Outcome, pb.bets)
	if err != nil {
		return m.recordFailure(ctx, now, p, 0, pb.bets, "payout: "+err.Error())
	}

	key := SettlementKey(m.gameType, m.round.RoundID, p)
	var snap codec.BalanceSnapshot
	op := func() error {
		s, err := m.ledger.Apply(ctx, key, p, payout)
		if err != nil {
			if ledger.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		snap = s
		return nil
	}
	if err := backoff.Retry(op, m.newBackOff(ctx)); err != nil {
		if ledger.IsTransient(err) || ctx.Err() != nil {
			m.attempts[p]++
			m.logger.Warn("settlement deferred", "player", p.String(), "round", m.round.RoundID, "attempts", m.attempts[p], "err", err)
			return nil, nil
		}
		return m.recordFailure(ctx, now, p, payout, pb.bets, err.Error())
	}

	ev := codec.PlayerSettled{Player: p, RoundID: m.round.RoundID, Payout: payout, Balance: snap, Bets: pb.bets}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindPlayerSettled, ev: ev}); err != nil {
		return nil, err
	}
	sr := m.settled[p]
	m.archive(sr)
	return &sr, nil
}

// recordFailure closes a player's settlement as reconciliation-required so the
// loss is visible instead of silently dropped.
func (m *Machine) recordFailure(ctx context.Context, now uint64, p codec.Player, payout int64, bets []codec.Bet, reason string) (*SettlementRecord, error) {
	sr := SettlementRecord{
		Player:  p,
		RoundID: m.round.RoundID,
		Payout:  payout,
		Bets:    bets,
		Status:  StatusReconciliationRequired,
		Reason:  truncate(reason, codec.MaxMessageLen),
	}
	body, err := encodeSettlement(sr)
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindSettlementFailed, body: body}); err != nil {
		return nil, err
	}
	m.logger.Error("settlement requires reconciliation", "player", p.String(), "round", sr.RoundID, "payout", payout, "reason", reason)
	m.archive(sr)
	return &sr, nil
}

func (m *Machine) archive(sr SettlementRecord) {
	bz, err := encodeSettlement(sr)
	if err == nil {
		err = m.journal.PutSettlement(m.gameType, sr.RoundID, sr.Player, bz)
	}
	if err != nil {
		// the log already holds the record; the archive is a lookup index
		m.logger.Error("settlement archive write failed", "player", sr.Player.String(), "round", sr.RoundID, "err", err)
	}
}

// unsettled returns up to n bettors without a record, resuming after the last
// slice so a player stuck on retries does not starve the rest.
func (m *Machine) unsettled(n int) []codec.Player {
	var out []codec.Player
	for i := 0; i < len(m.order) && len(out) < n; i++ {
		j := (m.cursor + i) % len(m.order)
		p := m.order[j]
		if _, ok := m.settled[p]; ok {
			continue
		}
		out = append(out, p)
		m.cursor = (j + 1) % len(m.order)
	}
	return out
}

func (m *Machine) settleTick(ctx context.Context, now uint64) (bool, error) {
	if batch := m.unsettled(m.opts.SettleSlice); len(batch) > 0 {
		if _, err := m.SettleSlice(ctx, now, m.round.RoundID, batch); err != nil {
			return false, err
		}
	}
	if len(m.settled) >= len(m.order) {
		return true, m.finalize(ctx, now)
	}
	if now < m.settlingAt+m.cfg.PayoutMs {
		return false, nil
	}
	for _, p := range m.order {
		if _, ok := m.settled[p]; ok {
			continue
		}
		reason := "payout window elapsed after " + itoa(uint64(m.attempts[p])) + " attempts"
		// owed amount, so reconciliation knows what to credit
		payout, err := m.game.Payout(m.round.Outcome, m.bets[p].bets)
		if err != nil {
			payout = 0
			reason += "; payout: " + err.Error()
		}
		if _, err := m.recordFailure(ctx, now, p, payout, m.bets[p].bets, reason); err != nil {
			return false, err
		}
	}
	return true, m.finalize(ctx, now)
}
