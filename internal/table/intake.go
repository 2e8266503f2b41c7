package table

import (
	"context"
	"sort"

	errorsmod "cosmossdk.io/errors"
	"golang.org/x/sync/errgroup"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/games"
)

// MaxKeyLen bounds a submission's idempotency key.
const MaxKeyLen = 128

type Submission struct {
	Player  codec.Player
	RoundID uint64
	Key     string
	Bets    []codec.Bet

	arrivedAt uint64
	seq       uint64
	reply     chan Result
}

// Result is the verdict on one submission. Err is the registered rejection
// error (or an engine fault) when Accepted is false.
type Result struct {
	Accepted bool
	Code     codec.RejectCode
	Message  string
	Balance  codec.BalanceSnapshot
	Err      error
}

type SubmitResult struct {
	Submission Submission
	Result     Result
}

func rejected(code codec.RejectCode, err error) Result {
	return Result{Code: code, Message: err.Error(), Err: err}
}

// ring is the bounded per-table intake buffer, drained once per tick.
type ring struct {
	buf  []Submission
	head int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Submission, capacity)}
}

func (r *ring) push(s Submission) bool {
	if r.n == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.n)%len(r.buf)] = s
	r.n++
	return true
}

func (r *ring) drain() []Submission {
	out := make([]Submission, r.n)
	for i := 0; i < r.n; i++ {
		j := (r.head + i) % len(r.buf)
		out[i] = r.buf[j]
		r.buf[j] = Submission{}
	}
	r.head, r.n = 0, 0
	return out
}

func (r *ring) len() int { return r.n }

// Enqueue stamps s with its arrival time and buffers it for the next tick. A
// full buffer rejects immediately.
func (m *Machine) Enqueue(s Submission, now uint64) error {
	if len(s.Key) > MaxKeyLen {
		return errorsmod.Wrapf(ErrLimitExceeded, "idempotency key of %d bytes", len(s.Key))
	}
	m.nextSub++
	s.arrivedAt = now
	s.seq = m.nextSub
	if !m.intake.push(s) {
		return errorsmod.Wrapf(ErrLimitExceeded, "intake buffer full (%d)", m.intake.len())
	}
	return nil
}

// Submit buffers s with a reply channel that receives its verdict after the
// next tick.
func (m *Machine) Submit(s Submission, now uint64) (<-chan Result, error) {
	s.reply = make(chan Result, 1)
	if err := m.Enqueue(s, now); err != nil {
		return nil, err
	}
	return s.reply, nil
}

type precheck struct {
	limit      error
	stake      uint64
	balance    codec.BalanceSnapshot
	balanceErr error
}

func (m *Machine) closedFor(s Submission) bool {
	return m.paused || !m.started ||
		s.RoundID != m.round.RoundID ||
		m.round.Phase != codec.PhaseOpen ||
		s.arrivedAt >= m.softLockAt
}

// precheck runs the stateless limit checks and the balance lookup. It only
// reads machine state and runs concurrently for all submissions of a tick.
func (m *Machine) precheck(ctx context.Context, s Submission) precheck {
	var pc precheck
	if m.closedFor(s) {
		return pc
	}
	switch {
	case len(s.Bets) == 0:
		pc.limit = errorsmod.Wrap(ErrLimitExceeded, "no bets")
	case len(s.Bets) > int(m.cfg.MaxBetsPerRound):
		pc.limit = errorsmod.Wrapf(ErrLimitExceeded, "%d bets, max %d per round", len(s.Bets), m.cfg.MaxBetsPerRound)
	}
	if pc.limit == nil {
		for _, b := range s.Bets {
			if b.Amount < m.cfg.MinBet || b.Amount > m.cfg.MaxBet {
				pc.limit = errorsmod.Wrapf(ErrLimitExceeded, "amount %d outside [%d, %d]", b.Amount, m.cfg.MinBet, m.cfg.MaxBet)
				break
			}
			if err := m.game.ValidateBet(b); err != nil {
				pc.limit = errorsmod.Wrap(ErrLimitExceeded, err.Error())
				break
			}
		}
	}
	if pc.limit == nil {
		stake, err := games.Stake(s.Bets)
		if err != nil {
			pc.limit = errorsmod.Wrap(ErrLimitExceeded, err.Error())
		}
		pc.stake = stake
	}
	if pc.limit != nil {
		return pc
	}
	pc.balance, pc.balanceErr = m.ledger.Balance(ctx, s.Player)
	return pc
}

// overlay tracks acceptances of the current tick that are not yet applied.
type overlay struct {
	count  map[codec.Player]int
	stake  map[codec.Player]uint64
	seen   map[seenKey]struct{}
	totals []codec.Total
}

func (m *Machine) drainIntake(ctx context.Context, now uint64) []SubmitResult {
	subs := m.intake.drain()
	if len(subs) == 0 {
		return nil
	}
	// Identical input sets must produce identical logs, whatever the arrival order.
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Player != subs[j].Player {
			return lessPlayer(subs[i].Player, subs[j].Player)
		}
		if subs[i].Key != subs[j].Key {
			return subs[i].Key < subs[j].Key
		}
		return subs[i].seq < subs[j].seq
	})

	checks := make([]precheck, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ValidateWorkers)
	for i := range subs {
		i := i
		g.Go(func() error {
			checks[i] = m.precheck(gctx, subs[i])
			return nil
		})
	}
	_ = g.Wait()

	ov := overlay{
		count:  make(map[codec.Player]int),
		stake:  make(map[codec.Player]uint64),
		seen:   make(map[seenKey]struct{}),
		totals: append([]codec.Total(nil), m.round.Totals...),
	}
	results := make([]SubmitResult, len(subs))
	ps := make([]pending, len(subs))
	accepted := 0
	for i, s := range subs {
		res := m.admit(s, checks[i], &ov)
		results[i] = SubmitResult{Submission: s, Result: res}
		if res.Accepted {
			accepted++
			ps[i] = pending{
				kind: eventlog.KindBetAccepted,
				ev:   codec.BetAccepted{Player: s.Player, RoundID: s.RoundID, Bets: s.Bets, Balance: res.Balance},
				aux:  []byte(s.Key),
			}
		} else {
			ps[i] = pending{
				kind: eventlog.KindBetRejected,
				ev:   codec.BetRejected{Player: s.Player, RoundID: s.RoundID, Code: res.Code, Message: truncate(res.Message, codec.MaxMessageLen)},
			}
			m.logger.Warn("bet rejected", "player", s.Player.String(), "round", s.RoundID, "reason", res.Code.String(), "msg", res.Message)
		}
	}

	if err := m.commit(ctx, now, ps...); err != nil {
		for i := range results {
			results[i].Result = Result{Code: codec.RejectRoundClosed, Message: err.Error(), Err: err}
		}
		m.fault(ctx, now, err)
		return results
	}
	if accepted > 0 {
		m.pub.Publish(m.gameType, codec.RoundOpened{Round: m.round.Clone()}, false)
	}
	return results
}

// admit applies the validation order: round closed, per-submission limits,
// duplicate, round-wide limits, balance.
func (m *Machine) admit(s Submission, pc precheck, ov *overlay) Result {
	if m.closedFor(s) {
		return rejected(codec.RejectRoundClosed, errorsmod.Wrapf(ErrRoundClosed, "round %d is not accepting bets", s.RoundID))
	}
	if pc.limit != nil {
		return rejected(codec.RejectLimitExceeded, pc.limit)
	}

	// a replayed key is a duplicate even once the round quota is used up
	sk := seenKey{player: s.Player, roundID: s.RoundID, key: s.Key}
	if _, ok := m.seen[sk]; ok {
		return rejected(codec.RejectDuplicate, errorsmod.Wrapf(ErrDuplicate, "key %q", s.Key))
	}
	if _, ok := ov.seen[sk]; ok {
		return rejected(codec.RejectDuplicate, errorsmod.Wrapf(ErrDuplicate, "key %q", s.Key))
	}

	var prevCount int
	var prevStake uint64
	if pb, ok := m.bets[s.Player]; ok {
		prevCount = len(pb.bets)
		prevStake = pb.stake
	}
	count := prevCount + ov.count[s.Player] + len(s.Bets)
	if count > int(m.cfg.MaxBetsPerRound) {
		return rejected(codec.RejectLimitExceeded, errorsmod.Wrapf(ErrLimitExceeded, "%d bets this round, max %d", count, m.cfg.MaxBetsPerRound))
	}
	totals := append([]codec.Total(nil), ov.totals...)
	for _, b := range s.Bets {
		var err error
		if totals, err = addTotal(totals, b); err != nil {
			return rejected(codec.RejectLimitExceeded, err)
		}
	}

	if pc.balanceErr != nil {
		return rejected(codec.RejectInsufficientBalance, errorsmod.Wrapf(ErrInsufficientBalance, "balance unavailable: %v", pc.balanceErr))
	}
	exposure := prevStake + ov.stake[s.Player]
	if exposure > ^uint64(0)-pc.stake || pc.balance.Chips < exposure+pc.stake {
		return rejected(codec.RejectInsufficientBalance, errorsmod.Wrapf(ErrInsufficientBalance, "have=%d need=%d", pc.balance.Chips, exposure+pc.stake))
	}

	ov.count[s.Player] += len(s.Bets)
	ov.stake[s.Player] += pc.stake
	ov.seen[sk] = struct{}{}
	ov.totals = totals
	return Result{Accepted: true, Balance: pc.balance}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
