package table

import (
	"context"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	"golang.org/x/sync/errgroup"

	"globaltable/internal/codec"
)

// Manager runs one Table per configured game and routes instructions to them.
type Manager struct {
	tables map[codec.GameType]*Table
}

// NewManager builds a machine and table for every config. Configs must name
// distinct games.
func NewManager(cfgs []codec.TableConfig, opts Options, deps Deps, every time.Duration, clock Clock) (*Manager, error) {
	mgr := &Manager{tables: make(map[codec.GameType]*Table, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := mgr.tables[cfg.GameType]; dup {
			return nil, errorsmod.Wrapf(ErrInvalidConfig, "%s configured twice", cfg.GameType)
		}
		m, err := NewMachine(cfg, opts, deps)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "table %s", cfg.GameType)
		}
		mgr.tables[cfg.GameType] = NewTable(m, every, clock)
	}
	return mgr, nil
}

// Recover replays every table from the log. It must run before Run.
func (mgr *Manager) Recover(ctx context.Context, src Replayer, budget time.Duration) error {
	for _, g := range mgr.Games() {
		t := mgr.tables[g]
		if _, err := t.m.Recover(ctx, src, budget, t.clock()); err != nil {
			return errorsmod.Wrapf(err, "recover %s", g)
		}
	}
	return nil
}

// Run runs every table until ctx is done.
func (mgr *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range mgr.tables {
		t := t
		g.Go(func() error { return t.Run(gctx) })
	}
	return g.Wait()
}

func (mgr *Manager) Games() []codec.GameType {
	out := make([]codec.GameType, 0, len(mgr.tables))
	for g := range mgr.tables {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (mgr *Manager) Table(g codec.GameType) (*Table, error) {
	t, ok := mgr.tables[g]
	if !ok {
		return nil, errorsmod.Wrapf(ErrUnknownTable, "%s", g)
	}
	return t, nil
}

// Dispatch routes one decoded instruction from signer. Bets are answered on
// the returned channel once the table drains its intake; every other
// instruction is applied before Dispatch returns and its verdict is already
// on the channel.
func (mgr *Manager) Dispatch(ctx context.Context, signer codec.Player, key string, in codec.Instruction) (<-chan Result, error) {
	t, err := mgr.Table(in.Game())
	if err != nil {
		return nil, err
	}
	if sb, ok := in.(codec.SubmitBets); ok {
		return t.Enqueue(ctx, Submission{Player: signer, RoundID: sb.RoundID, Key: key, Bets: sb.Bets})
	}
	out := make(chan Result, 1)
	if err := t.Instruct(ctx, in); err != nil {
		if errorsmod.IsOf(err, ErrStopped, context.Canceled, context.DeadlineExceeded) {
			return nil, err
		}
		out <- Result{Message: err.Error(), Err: err}
		return out, nil
	}
	out <- Result{Accepted: true}
	return out, nil
}

func (mgr *Manager) View(ctx context.Context, g codec.GameType) (View, error) {
	t, err := mgr.Table(g)
	if err != nil {
		return View{}, err
	}
	return t.View(ctx)
}
