package table

import (
	"context"
	"time"

	"cosmossdk.io/log"

	"globaltable/internal/codec"
)

// Clock returns engine time in milliseconds.
type Clock func() uint64

func WallClock() uint64 { return uint64(time.Now().UnixMilli()) }

// View is a consistent copy of a table's public state.
type View struct {
	Round      codec.Round
	Config     codec.TableConfig
	Paused     bool
	Reason     string
	LastSeq    uint64
	SoftLockAt uint64
}

// Table owns a Machine and runs it on a single goroutine. Every call is
// turned into a request on the inbox and served between ticks.
type Table struct {
	m      *Machine
	clock  Clock
	every  time.Duration
	logger log.Logger

	inbox   chan func(now uint64)
	stopped chan struct{}
}

func NewTable(m *Machine, every time.Duration, clock Clock) *Table {
	if clock == nil {
		clock = WallClock
	}
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	return &Table{
		m:       m,
		clock:   clock,
		every:   every,
		logger:  m.logger,
		inbox:   make(chan func(now uint64)),
		stopped: make(chan struct{}),
	}
}

func (t *Table) GameType() codec.GameType { return t.m.gameType }

// Run serves requests and ticks the machine until ctx is done.
func (t *Table) Run(ctx context.Context) error {
	defer close(t.stopped)
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()

	t.logger.Info("table running", "tick", t.every, "round", t.m.round.RoundID)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("table stopped", "round", t.m.round.RoundID, "phase", t.m.round.Phase.String())
			return nil
		case fn := <-t.inbox:
			fn(t.clock())
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Table) tick(ctx context.Context) {
	for _, sr := range t.m.Tick(ctx, t.clock()) {
		if sr.Submission.reply != nil {
			sr.Submission.reply <- sr.Result
		}
	}
}

// do runs fn on the table goroutine and waits for it to finish.
func (t *Table) do(ctx context.Context, fn func(now uint64)) error {
	done := make(chan struct{})
	req := func(now uint64) {
		defer close(done)
		fn(now)
	}
	select {
	case t.inbox <- req:
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Enqueue buffers a submission and returns the channel its verdict arrives
// on. A full intake buffer is answered at once.
func (t *Table) Enqueue(ctx context.Context, s Submission) (<-chan Result, error) {
	var (
		ch  <-chan Result
		err error
	)
	if derr := t.do(ctx, func(now uint64) { ch, err = t.m.Submit(s, now) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		out := make(chan Result, 1)
		out <- rejected(codec.RejectLimitExceeded, err)
		return out, nil
	}
	return ch, nil
}

// Submit enqueues s and waits for its verdict.
func (t *Table) Submit(ctx context.Context, s Submission) (Result, error) {
	ch, err := t.Enqueue(ctx, s)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-t.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Table) Instruct(ctx context.Context, in codec.Instruction) error {
	var err error
	if derr := t.do(ctx, func(now uint64) { err = t.m.Instruct(ctx, now, in) }); derr != nil {
		return derr
	}
	return err
}

func (t *Table) Pause(ctx context.Context, reason string) error {
	return t.do(ctx, func(now uint64) { t.m.Pause(ctx, now, reason) })
}

func (t *Table) Resume(ctx context.Context) error {
	var err error
	if derr := t.do(ctx, func(now uint64) { err = t.m.Resume(ctx, now) }); derr != nil {
		return derr
	}
	return err
}

func (t *Table) View(ctx context.Context) (View, error) {
	var v View
	err := t.do(ctx, func(uint64) {
		v = View{
			Round:      t.m.Round(),
			Config:     t.m.Config(),
			LastSeq:    t.m.LastSeq(),
			SoftLockAt: t.m.SoftLockAt(),
		}
		v.Paused, v.Reason = t.m.Paused()
	})
	return v, err
}

// Settlements returns the settlement records of the listed players for a
// round, settling them first if the round is currently paying out.
func (t *Table) Settlements(ctx context.Context, roundID uint64, players []codec.Player) ([]SettlementRecord, error) {
	var (
		out []SettlementRecord
		err error
	)
	if derr := t.do(ctx, func(now uint64) { out, err = t.m.SettleSlice(ctx, now, roundID, players) }); derr != nil {
		return nil, derr
	}
	return out, err
}
