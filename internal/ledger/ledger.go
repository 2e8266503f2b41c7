package ledger

import (
	"context"
	"errors"
	"sync"

	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
)

const codespace = "ledger"

var (
	// ErrUnavailable is transient: the call may be retried with the same key.
	ErrUnavailable       = errorsmod.Register(codespace, 1, "ledger unavailable")
	ErrInsufficientFunds = errorsmod.Register(codespace, 2, "insufficient funds")
	ErrRejected          = errorsmod.Register(codespace, 3, "ledger rejected operation")
)

// Ledger is the external owner of player balances. Apply must be idempotent per
// key: a repeated key returns the first result without moving funds again.
type Ledger interface {
	Balance(ctx context.Context, p codec.Player) (codec.BalanceSnapshot, error)
	Apply(ctx context.Context, key []byte, p codec.Player, delta int64) (codec.BalanceSnapshot, error)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Memory is an in-process Ledger for devnets and tests. Fault injection makes
// the next calls fail transiently or permanently.
type Memory struct {
	mu       sync.Mutex
	accounts map[codec.Player]codec.BalanceSnapshot
	applied  map[string]codec.BalanceSnapshot

	transientFaults int
	permanent       bool
	applyCalls      int
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[codec.Player]codec.BalanceSnapshot),
		applied:  make(map[string]codec.BalanceSnapshot),
	}
}

func (m *Memory) Fund(p codec.Player, chips uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.accounts[p]
	b.Chips = chips
	m.accounts[p] = b
}

// FailNext makes the next n Balance/Apply calls return ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transientFaults = n
}

// Reject makes every Apply fail permanently until cleared.
func (m *Memory) Reject(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permanent = on
}

// ApplyCalls counts Apply invocations, including replays of a known key.
func (m *Memory) ApplyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyCalls
}

func (m *Memory) Balance(ctx context.Context, p codec.Player) (codec.BalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return codec.BalanceSnapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transientFaults > 0 {
		m.transientFaults--
		return codec.BalanceSnapshot{}, errorsmod.Wrap(ErrUnavailable, "injected fault")
	}
	return m.accounts[p], nil
}

func (m *Memory) Apply(ctx context.Context, key []byte, p codec.Player, delta int64) (codec.BalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return codec.BalanceSnapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++

	if m.transientFaults > 0 {
		m.transientFaults--
		return codec.BalanceSnapshot{}, errorsmod.Wrap(ErrUnavailable, "injected fault")
	}
	if snap, ok := m.applied[string(key)]; ok {
		return snap, nil
	}
	if m.permanent {
		return codec.BalanceSnapshot{}, errorsmod.Wrap(ErrRejected, "injected rejection")
	}

	b := m.accounts[p]
	if delta >= 0 {
		add := uint64(delta)
		if b.Chips > ^uint64(0)-add {
			return codec.BalanceSnapshot{}, errorsmod.Wrapf(ErrRejected, "balance overflow: have=%d add=%d", b.Chips, add)
		}
		b.Chips += add
	} else {
		// -delta overflows for MinInt64; compute the magnitude in uint64.
		sub := uint64(^delta) + 1
		if b.Chips < sub {
			return codec.BalanceSnapshot{}, errorsmod.Wrapf(ErrInsufficientFunds, "have=%d need=%d", b.Chips, sub)
		}
		b.Chips -= sub
	}
	m.accounts[p] = b
	m.applied[string(key)] = b
	return b, nil
}
