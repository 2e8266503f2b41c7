package table

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/games"
	"globaltable/internal/ledger"
	"globaltable/internal/rng"
)

const t0 = uint64(10_000)

var testCfg = codec.TableConfig{
	GameType:        codec.GameCraps,
	BettingMs:       1000,
	LockMs:          1000,
	PayoutMs:        1000,
	CooldownMs:      1000,
	MinBet:          1,
	MaxBet:          500,
	MaxBetsPerRound: 4,
}

func testOpts() Options {
	o := DefaultOptions()
	o.LatencyBufferMs = 100
	o.RevealWait = time.Millisecond
	o.LedgerRetries = 0
	return o
}

type recorder struct {
	mu       sync.Mutex
	events   []codec.Event
	critical []bool
	paused   bool
	reason   string
}

func (r *recorder) Publish(_ codec.GameType, ev codec.Event, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.critical = append(r.critical, critical)
}

func (r *recorder) SetHealth(_ codec.GameType, paused bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
	r.reason = reason
}

func (r *recorder) health() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused, r.reason
}

func (r *recorder) byTag(tag codec.EventTag) []codec.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []codec.Event
	for _, ev := range r.events {
		if ev.EventTag() == tag {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	db     dbm.DB
	store  *eventlog.Store
	led    *ledger.Memory
	beacon *rng.Beacon
	pub    *recorder
	opts   Options
	m      *Machine
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db := dbm.NewMemDB()
	h := &harness{
		t:      t,
		db:     db,
		store:  eventlog.New(db, log.NewNopLogger()),
		led:    ledger.NewMemory(),
		beacon: rng.NewBeacon(0),
		pub:    &recorder{},
		opts:   opts,
	}
	h.m = h.machine()
	return h
}

func (h *harness) machine() *Machine {
	m, err := NewMachine(testCfg, h.opts, Deps{Journal: h.store, Ledger: h.led, Seeds: h.beacon, Publisher: h.pub})
	require.NoError(h.t, err)
	return m
}

// restart drops the live machine and rebuilds one from the database, as a
// crashed process would.
func (h *harness) restart(budget time.Duration, now uint64) *Machine {
	h.store = eventlog.New(h.db, log.NewNopLogger())
	m := h.machine()
	_, err := m.Recover(context.Background(), h.store, budget, now)
	require.NoError(h.t, err)
	h.m = m
	return m
}

// peek rebuilds a read-only copy of the machine without replacing it.
func (h *harness) peek(now uint64) *Machine {
	store := eventlog.New(h.db, log.NewNopLogger())
	m, err := NewMachine(testCfg, h.opts, Deps{Journal: store, Ledger: h.led, Seeds: h.beacon})
	require.NoError(h.t, err)
	_, err = m.Recover(context.Background(), store, 0, now)
	require.NoError(h.t, err)
	return m
}

func (h *harness) tick(now uint64) []SubmitResult {
	return h.m.Tick(context.Background(), now)
}

func (h *harness) enqueue(p codec.Player, roundID uint64, key string, now uint64, bets ...codec.Bet) {
	require.NoError(h.t, h.m.Enqueue(Submission{Player: p, RoundID: roundID, Key: key, Bets: bets}, now))
}

func player(i byte) codec.Player { return codec.Player{i, 0xab} }

func field(amount uint64) codec.Bet {
	return codec.Bet{BetType: games.CrapsField, Amount: amount}
}

// verdicts groups results by "player/key"; an accepted submission reports
// code 0.
func verdicts(rs []SubmitResult) map[string][]codec.RejectCode {
	out := make(map[string][]codec.RejectCode)
	for _, r := range rs {
		k := fmt.Sprintf("p%d/%s", r.Submission.Player[0], r.Submission.Key)
		out[k] = append(out[k], r.Result.Code)
	}
	return out
}

// crapsSeed finds a beacon seed whose roll for roundID comes up d1, d2.
func crapsSeed(t *testing.T, roundID uint64, d1, d2 uint8) []byte {
	t.Helper()
	for i := 0; i < 1<<16; i++ {
		seed := []byte{byte(i), byte(i >> 8), 0x5a}
		roll := rng.RollSeed(seed, roundID, codec.GameCraps)
		o := games.Craps{}.Resolve(roll, codec.CrapsOutcome{}).(codec.CrapsOutcome)
		if o.D1 == d1 && o.D2 == d2 {
			return seed
		}
	}
	t.Fatalf("no seed rolls %d+%d", d1, d2)
	return nil
}

// stateBytes encodes the replayable state; the settle cursor and retry
// counters only steer scheduling and are left out.
func stateBytes(t *testing.T, m *Machine) []byte {
	t.Helper()
	cursor, attempts := m.cursor, m.attempts
	m.cursor, m.attempts = 0, map[codec.Player]int{}
	defer func() { m.cursor, m.attempts = cursor, attempts }()
	bz, err := m.encodeState()
	require.NoError(t, err)
	return bz
}
