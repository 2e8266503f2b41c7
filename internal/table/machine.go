package table

import (
	"context"
	"errors"
	"sort"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"globaltable/internal/codec"
	"globaltable/internal/eventlog"
	"globaltable/internal/games"
	"globaltable/internal/ledger"
	"globaltable/internal/rng"
)

// Journal is the write-ahead log a Machine commits to before any state change
// becomes visible.
type Journal interface {
	Append(ctx context.Context, g codec.GameType, recs ...eventlog.Record) ([]eventlog.Record, error)
	SaveSnapshot(ctx context.Context, g codec.GameType, seq uint64, state []byte) error
	PutSettlement(g codec.GameType, roundID uint64, p codec.Player, rec []byte) error
	GetSettlement(g codec.GameType, roundID uint64, p codec.Player) ([]byte, error)
}

// Publisher receives committed events for fan-out.
type Publisher interface {
	Publish(g codec.GameType, ev codec.Event, critical bool)
	SetHealth(g codec.GameType, paused bool, reason string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(codec.GameType, codec.Event, bool)  {}
func (nopPublisher) SetHealth(codec.GameType, bool, string)     {}

type Deps struct {
	Journal   Journal
	Ledger    ledger.Ledger
	Seeds     rng.SeedSource
	Publisher Publisher
	Logger    log.Logger
}

type seenKey struct {
	player  codec.Player
	roundID uint64
	key     string
}

type playerBets struct {
	bets    []codec.Bet
	stake   uint64
	balance codec.BalanceSnapshot
	keys    []string
}

// Machine is the single-writer round engine of one game variant. It is not
// safe for concurrent use; Table serializes access to it.
type Machine struct {
	game     games.Game
	gameType codec.GameType
	cfg      codec.TableConfig
	staged   *codec.TableConfig
	opts     Options

	journal Journal
	ledger  ledger.Ledger
	seeds   rng.SeedSource
	pub     Publisher
	logger  log.Logger

	started     bool
	round       codec.Round
	openedAt    uint64
	softLockAt  uint64
	lockedAt    uint64
	stallSince  uint64
	resolvingAt uint64
	settlingAt  uint64
	nextOpenAt  uint64
	commitment  rng.Commitment

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

	intake  *ring
	nextSub uint64
}

func NewMachine(cfg codec.TableConfig, opts Options, deps Deps) (*Machine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	game, err := games.Lookup(cfg.GameType)
	if err != nil {
		return nil, err
	}
	if deps.Journal == nil || deps.Ledger == nil || deps.Seeds == nil {
		return nil, errors.New("table: journal, ledger and seed source are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	opts = opts.withDefaults()
	m := &Machine{
		game:     game,
		gameType: cfg.GameType,
		cfg:      cfg,
		opts:     opts,
		journal:  deps.Journal,
		ledger:   deps.Ledger,
		seeds:    deps.Seeds,
		pub:      deps.Publisher,
		logger:   deps.Logger.With("module", "table", "game", cfg.GameType.String()),
		round:    codec.Round{GameType: cfg.GameType, Phase: codec.PhaseFinalized},
		intake:   newRing(opts.IntakeCapacity),
	}
	m.resetRoundState()
	return m, nil
}

func (m *Machine) resetRoundState() {
	m.bets = make(map[codec.Player]*playerBets)
	m.seen = make(map[seenKey]struct{})
	m.settled = make(map[codec.Player]SettlementRecord)
	m.attempts = make(map[codec.Player]int)
	m.order = nil
	m.cursor = 0
	m.commitment = rng.Commitment{}
}

func (m *Machine) GameType() codec.GameType   { return m.gameType }
func (m *Machine) Config() codec.TableConfig  { return m.cfg }
func (m *Machine) Round() codec.Round         { return m.round.Clone() }
func (m *Machine) Paused() (bool, string)     { return m.paused, m.pauseReason }
func (m *Machine) LastSeq() uint64            { return m.lastSeq }
func (m *Machine) SoftLockAt() uint64         { return m.softLockAt }
func (m *Machine) Commitment() rng.Commitment { return m.commitment }

// Bets returns the bets a player has placed in the current round.
func (m *Machine) Bets(p codec.Player) []codec.Bet {
	pb, ok := m.bets[p]
	if !ok {
		return nil
	}
	return append([]codec.Bet(nil), pb.bets...)
}

// Tick drains the intake buffer, then advances the round as far as the clock
// allows. It returns the verdict for every drained submission.
func (m *Machine) Tick(ctx context.Context, now uint64) []SubmitResult {
	results := m.drainIntake(ctx, now)
	if err := m.advance(ctx, now); err != nil {
		m.fault(ctx, now, err)
	}
	return results
}

// advance runs phase transitions until none is due. The bound keeps a tick
// from cycling through whole rounds when every duration has elapsed.
func (m *Machine) advance(ctx context.Context, now uint64) error {
	for i := 0; i < 8; i++ {
		if m.paused {
			return nil
		}
		moved, err := m.step(ctx, now)
		if err != nil || !moved {
			return err
		}
	}
	return nil
}

func (m *Machine) step(ctx context.Context, now uint64) (bool, error) {
	if !m.started {
		if !m.opts.AutoOpen {
			return false, nil
		}
		return true, m.openRound(ctx, now)
	}
	switch m.round.Phase {
	case codec.PhaseOpen:
		if now < m.softLockAt {
			return false, nil
		}
		return true, m.lock(ctx, now)
	case codec.PhaseLocked:
		if err := m.checkStall(now); err != nil {
			return false, err
		}
		if now < m.lockedAt+m.cfg.LockMs {
			return false, nil
		}
		return true, m.commit(ctx, now, pending{kind: eventlog.KindPhaseAdvanced, body: []byte{uint8(codec.PhaseResolving)}})
	case codec.PhaseResolving:
		if err := m.checkStall(now); err != nil {
			return false, err
		}
		return m.resolve(ctx, now)
	case codec.PhaseSettling:
		return m.settleTick(ctx, now)
	case codec.PhaseFinalized:
		if !m.opts.AutoOpen || now < m.nextOpenAt {
			return false, nil
		}
		return true, m.openRound(ctx, now)
	}
	return false, nil
}

func (m *Machine) checkStall(now uint64) error {
	if now > m.stallSince && now-m.stallSince > m.cfg.LockMs+m.opts.StallCeilingMs {
		return errorsmod.Wrapf(ErrStalled, "round %d in %s for %dms", m.round.RoundID, m.round.Phase, now-m.stallSince)
	}
	return nil
}

func (m *Machine) openRound(ctx context.Context, now uint64) error {
	cfg := m.cfg
	if m.staged != nil {
		cfg = *m.staged
	}
	buffer := m.opts.LatencyBufferMs
	if buffer >= cfg.BettingMs {
		buffer = cfg.BettingMs - 1
	}
	r := codec.Round{
		GameType:    m.gameType,
		RoundID:     m.round.RoundID + 1,
		Phase:       codec.PhaseOpen,
		PhaseEndsAt: now + cfg.BettingMs - buffer,
		Outcome:     m.game.NextOutcome(m.round.Outcome, cfg),
	}
	return m.commit(ctx, now, pending{kind: eventlog.KindRoundOpened, ev: codec.RoundOpened{Round: r}})
}

func (m *Machine) lock(ctx context.Context, now uint64) error {
	c := rng.Commit(m.gameType, m.round.RoundID, m.seeds.Latest(), m.cfg.LockMs)
	ev := codec.Locked{GameType: m.gameType, RoundID: m.round.RoundID, PhaseEndsAt: now + m.cfg.LockMs}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindLocked, ev: ev, aux: u64be(c.TargetView)}); err != nil {
		return err
	}
	m.logger.Info("round locked", "round", m.round.RoundID, "bettors", len(m.bets), "seed_view", c.TargetView)
	// the commitment is public before the seed exists; gateways get it as a
	// refresh of the round (phase Locked), not as a new round
	m.pub.Publish(m.gameType, codec.RoundOpened{Round: m.round.Clone()}, false)
	return nil
}

func (m *Machine) resolve(ctx context.Context, now uint64) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, m.opts.RevealWait)
	roll, err := rng.Reveal(wctx, m.seeds, m.commitment)
	cancel()
	if errors.Is(err, rng.ErrSeedUnavailable) {
		if now-m.resolvingAt >= m.opts.RevealTimeoutMs {
			return false, errorsmod.Wrapf(ErrSeedTimeout, "round %d waited %dms for view %d", m.round.RoundID, now-m.resolvingAt, m.commitment.TargetView)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r := m.round.Clone()
	r.Phase = codec.PhaseSettling
	r.PhaseEndsAt = now + m.cfg.PayoutMs
	r.Outcome = m.game.Resolve(roll, m.round.Outcome)
	r.RollSeed = roll[:]
	if err := m.commit(ctx, now, pending{kind: eventlog.KindOutcome, ev: codec.RoundOutcome{Round: r}}); err != nil {
		return false, err
	}
	m.logger.Info("outcome revealed", "round", r.RoundID, "outcome", outcomeString(r.Outcome))
	return true, nil
}

func (m *Machine) finalize(ctx context.Context, now uint64) error {
	ev := codec.Finalized{GameType: m.gameType, RoundID: m.round.RoundID}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindFinalized, ev: ev}); err != nil {
		return err
	}
	if m.nextOpenAt == now && now > m.openedAt+m.cfg.CycleMs() {
		m.logger.Warn("round overran its cycle; next round opens without cooldown", "round", ev.RoundID, "overrun_ms", now-m.openedAt-m.cfg.CycleMs())
	}
	if m.finalizedRounds%m.opts.SnapshotEvery == 0 {
		m.snapshot(ctx)
	}
	return nil
}

// Pause stops the table. Pending bets are rejected with ROUND_CLOSED until
// Resume; gateways are told through the health signal.
func (m *Machine) Pause(ctx context.Context, now uint64, reason string) {
	if m.paused {
		return
	}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindPaused, body: []byte(reason)}); err != nil {
		m.paused = true
		m.pauseReason = reason
		m.logger.Error("pause not logged", "err", err)
	}
	m.logger.Error("table paused", "round", m.round.RoundID, "phase", m.round.Phase.String(), "reason", reason)
	m.pub.SetHealth(m.gameType, true, reason)
}

func (m *Machine) Resume(ctx context.Context, now uint64) error {
	if !m.paused {
		return nil
	}
	if err := m.commit(ctx, now, pending{kind: eventlog.KindResumed}); err != nil {
		return err
	}
	m.logger.Info("table resumed", "round", m.round.RoundID, "phase", m.round.Phase.String())
	m.pub.SetHealth(m.gameType, false, "")
	return nil
}

func (m *Machine) fault(ctx context.Context, now uint64, err error) {
	m.Pause(ctx, now, err.Error())
}

// Instruct applies a consensus-ordered instruction. Step instructions only
// succeed once the clock has made the step due; they never move a deadline.
func (m *Machine) Instruct(ctx context.Context, now uint64, in codec.Instruction) error {
	if in.Game() != m.gameType {
		return errorsmod.Wrapf(ErrUnknownTable, "%s instruction sent to %s table", in.Game(), m.gameType)
	}
	switch v := in.(type) {
	case codec.Init:
		if err := ValidateConfig(v.Config); err != nil {
			return err
		}
		w := codec.NewWriter(64)
		w.TableConfig(v.Config)
		body, err := w.Bytes()
		if err != nil {
			return errorsmod.Wrap(ErrInvalidConfig, err.Error())
		}
		return m.commit(ctx, now, pending{kind: eventlog.KindConfigStaged, body: body})
	case codec.OpenRound:
		if m.paused {
			return ErrPaused
		}
		if m.started && (m.round.Phase != codec.PhaseFinalized || now < m.nextOpenAt) {
			return errorsmod.Wrapf(ErrNotDue, "round %d is %s", m.round.RoundID, m.round.Phase)
		}
		return m.openRound(ctx, now)
	case codec.RoundStep:
		if m.paused {
			return ErrPaused
		}
		if !m.started || v.RoundID > m.round.RoundID {
			return errorsmod.Wrapf(ErrNotDue, "round %d not open", v.RoundID)
		}
		if v.RoundID < m.round.RoundID {
			return nil
		}
		if err := m.advance(ctx, now); err != nil {
			m.fault(ctx, now, err)
			return err
		}
		if m.round.RoundID == v.RoundID && m.round.Phase < stepTarget(v.Step) {
			return errorsmod.Wrapf(ErrNotDue, "%s for round %d in %s", v.Step, v.RoundID, m.round.Phase)
		}
		return nil
	default:
		return errorsmod.Wrapf(ErrInvalidConfig, "instruction %s is not a table step", in.Tag())
	}
}

func stepTarget(t codec.InstructionTag) codec.Phase {
	switch t {
	case codec.TagLock:
		return codec.PhaseLocked
	case codec.TagReveal, codec.TagSettle:
		return codec.PhaseSettling
	default:
		return codec.PhaseFinalized
	}
}

// bettors returns the players with bets this round in a stable order.
func (m *Machine) bettors() []codec.Player {
	out := make([]codec.Player, 0, len(m.bets))
	for p := range m.bets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return lessPlayer(out[i], out[j]) })
	return out
}

func lessPlayer(a, b codec.Player) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func outcomeString(o codec.Outcome) string {
	switch v := o.(type) {
	case codec.CrapsOutcome:
		return "dice " + itoa(uint64(v.D1)) + "+" + itoa(uint64(v.D2))
	case codec.RouletteOutcome:
		return "pocket " + itoa(uint64(v.Pocket))
	default:
		return "none"
	}
}
