package table

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/rng"
)

type pending struct {
	kind eventlog.Kind
	ev   codec.Event
	body []byte
	aux  []byte
}

// commit appends ps to the journal as one batch, then applies and publishes
// them in order. Nothing changes if the append fails.
func (m *Machine) commit(ctx context.Context, now uint64, ps ...pending) error {
	recs := make([]eventlog.Record, len(ps))
	for i, p := range ps {
		body := p.body
		if p.ev != nil {
			b, err := codec.EncodeEvent(p.ev)
			if err != nil {
				return errorsmod.Wrapf(ErrLogFailed, "encode %s: %v", p.kind, err)
			}
			body = b
		}
		recs[i] = eventlog.Record{Game: m.gameType, AtMs: now, Kind: p.kind, Body: body, Aux: p.aux}
	}
	written, err := m.journal.Append(ctx, m.gameType, recs...)
	if err != nil {
		return errorsmod.Wrap(ErrLogFailed, err.Error())
	}
	for i, rec := range written {
		if err := m.apply(rec); err != nil {
			return err
		}
		if ev := ps[i].ev; ev != nil {
			m.pub.Publish(m.gameType, ev, critical(ev))
		}
	}
	return nil
}

func critical(ev codec.Event) bool {
	if _, ok := ev.(codec.RoundOpened); ok {
		return true
	}
	return codec.Critical(ev)
}

// apply is the only place table state changes. Live commits and log replay
// both go through it, so a replayed log reproduces the live state exactly.
func (m *Machine) apply(rec eventlog.Record) error {
	if rec.Seq != 0 {
		m.lastSeq = rec.Seq
	}
	if rec.Kind.IsEvent() {
		ev, err := rec.Event()
		if err != nil {
			return err
		}
		return m.applyEvent(rec, ev)
	}

	switch rec.Kind {
	case eventlog.KindPaused:
		m.paused = true
		m.pauseReason = string(rec.Body)
	case eventlog.KindResumed:
		m.paused = false
		m.pauseReason = ""
		m.stallSince = rec.AtMs
		if m.round.Phase == codec.PhaseResolving {
			m.resolvingAt = rec.AtMs
		}
	case eventlog.KindConfigStaged:
		r := codec.NewReader(rec.Body)
		cfg, err := r.TableConfig()
		if err != nil {
			return err
		}
		if m.started {
			m.staged = &cfg
		} else {
			m.cfg = cfg
			m.staged = nil
		}
	case eventlog.KindPhaseAdvanced:
		m.round.Phase = codec.PhaseResolving
		m.resolvingAt = rec.AtMs
		m.round.PhaseEndsAt = rec.AtMs + m.opts.RevealTimeoutMs
	case eventlog.KindSettlementFailed:
		sr, err := decodeSettlement(rec.Body)
		if err != nil {
			return err
		}
		m.settled[sr.Player] = sr
	case eventlog.KindRoundAborted:
		if len(rec.Body) != 8 {
			return fmt.Errorf("round aborted body: %d bytes", len(rec.Body))
		}
		id := binary.BigEndian.Uint64(rec.Body)
		if id > m.round.RoundID {
			m.round.RoundID = id
		}
		m.started = true
		m.aborted = true
		m.round.Phase = codec.PhaseFinalized
		m.round.PhaseEndsAt = rec.AtMs
		m.nextOpenAt = rec.AtMs
		m.resetRoundState()
	default:
		return fmt.Errorf("unknown record kind %d", rec.Kind)
	}
	return nil
}

func (m *Machine) applyEvent(rec eventlog.Record, ev codec.Event) error {
	switch v := ev.(type) {
	case codec.RoundOpened:
		if m.started && v.Round.RoundID <= m.round.RoundID {
			return fmt.Errorf("round %d opened after round %d", v.Round.RoundID, m.round.RoundID)
		}
		if m.staged != nil {
			m.cfg = *m.staged
			m.staged = nil
		}
		m.started = true
		m.aborted = false
		m.round = v.Round
		m.openedAt = rec.AtMs
		m.softLockAt = v.Round.PhaseEndsAt
		m.resetRoundState()
	case codec.BetAccepted:
		if v.RoundID != m.round.RoundID {
			return fmt.Errorf("bet for round %d applied to round %d", v.RoundID, m.round.RoundID)
		}
		pb := m.bets[v.Player]
		if pb == nil {
			pb = &playerBets{}
			m.bets[v.Player] = pb
		}
		pb.bets = append(pb.bets, v.Bets...)
		for _, b := range v.Bets {
			pb.stake += b.Amount
		}
		pb.balance = v.Balance
		key := string(rec.Aux)
		pb.keys = append(pb.keys, key)
		m.seen[seenKey{player: v.Player, roundID: v.RoundID, key: key}] = struct{}{}
		for _, b := range v.Bets {
			m.round.Totals, _ = addTotal(m.round.Totals, b)
		}
	case codec.BetRejected:
		// audit only
	case codec.Locked:
		if len(rec.Aux) != 8 {
			return fmt.Errorf("locked record without seed view")
		}
		m.commitment = rng.CommitAt(m.gameType, v.RoundID, binary.BigEndian.Uint64(rec.Aux))
		m.round.Phase = codec.PhaseLocked
		m.round.PhaseEndsAt = v.PhaseEndsAt
		m.round.RngCommit = m.commitment.Bytes()
		m.lockedAt = rec.AtMs
		m.stallSince = rec.AtMs
	case codec.RoundOutcome:
		m.round = v.Round
		m.settlingAt = rec.AtMs
		m.order = m.bettors()
		m.cursor = 0
	case codec.PlayerSettled:
		m.settled[v.Player] = SettlementRecord{
			Player:  v.Player,
			RoundID: v.RoundID,
			Payout:  v.Payout,
			Balance: v.Balance,
			Bets:    v.Bets,
			Status:  StatusSettled,
		}
	case codec.Finalized:
		m.round.Phase = codec.PhaseFinalized
		m.nextOpenAt = m.openedAt + m.cfg.CycleMs()
		if m.nextOpenAt < rec.AtMs {
			m.nextOpenAt = rec.AtMs
		}
		m.round.PhaseEndsAt = m.nextOpenAt
		m.finalizedRounds++
		m.resetRoundState()
	}
	return nil
}

// addTotal merges b into totals, keeping entries sorted by (betType, target)
// so the result does not depend on merge order. Zero amounts never create an
// entry.
func addTotal(totals []codec.Total, b codec.Bet) ([]codec.Total, error) {
	if b.Amount == 0 {
		return totals, nil
	}
	i := 0
	for ; i < len(totals); i++ {
		t := totals[i]
		if t.BetType == b.BetType && t.Target == b.Target {
			if t.Amount > ^uint64(0)-b.Amount {
				return totals, errorsmod.Wrap(ErrLimitExceeded, "round total overflow")
			}
			totals[i].Amount += b.Amount
			return totals, nil
		}
		if t.BetType > b.BetType || (t.BetType == b.BetType && t.Target > b.Target) {
			break
		}
	}
	if len(totals) >= codec.MaxTotals {
		return totals, errorsmod.Wrap(ErrLimitExceeded, "round totals full")
	}
	totals = append(totals, codec.Total{})
	copy(totals[i+1:], totals[i:])
	totals[i] = codec.Total{BetType: b.BetType, Target: b.Target, Amount: b.Amount}
	return totals, nil
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
