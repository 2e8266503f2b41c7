// Package config loads gtabled settings from a config file, GTABLE_ environment
// variables and command line flags.
package config

import (
	"io"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"globaltable/internal/app"
	"globaltable/internal/codec"
	"globaltable/internal/table"
)

const EnvPrefix = "GTABLE"

type Config struct {
	Home   string       `mapstructure:"home"`
	ABCI   ABCIConfig   `mapstructure:"abci"`
	Log    LogConfig    `mapstructure:"log"`
	Engine EngineConfig `mapstructure:"engine"`
	Fanout FanoutConfig `mapstructure:"fanout"`
	App    AppConfig    `mapstructure:"app"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Tables []Table      `mapstructure:"tables"`
}

type ABCIConfig struct {
	Addr      string `mapstructure:"addr"`
	Transport string `mapstructure:"transport"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	TickMs          uint64 `mapstructure:"tick_ms"`
	LatencyBufferMs uint64 `mapstructure:"latency_buffer_ms"`
	SettleSlice     int    `mapstructure:"settle_slice"`
	SnapshotEvery   uint64 `mapstructure:"snapshot_every"`
	RevealWaitMs    uint64 `mapstructure:"reveal_wait_ms"`
	RevealTimeoutMs uint64 `mapstructure:"reveal_timeout_ms"`
	StallCeilingMs  uint64 `mapstructure:"stall_ceiling_ms"`
	ReplayBudgetMs  uint64 `mapstructure:"replay_budget_ms"`
	IntakeCapacity  int    `mapstructure:"intake_capacity"`
	LedgerRetries   uint64 `mapstructure:"ledger_retries"`
	ValidateWorkers int    `mapstructure:"validate_workers"`
	AutoOpen        bool   `mapstructure:"auto_open"`
}

type FanoutConfig struct {
	QueueSize   int `mapstructure:"queue_size"`
	CriticalCap int `mapstructure:"critical_cap"`
}

type AppConfig struct {
	// Admin is the hex public key allowed to reconfigure tables. Empty means
	// any signer may.
	Admin        string `mapstructure:"admin"`
	ResultWaitMs uint64 `mapstructure:"result_wait_ms"`
	// SeedRetain is how many block seeds are kept for rounds still waiting
	// on a reveal.
	SeedRetain uint64 `mapstructure:"seed_retain"`
}

// LedgerConfig seeds the in-process ledger used by devnets.
type LedgerConfig struct {
	Accounts []Account `mapstructure:"accounts"`
}

type Account struct {
	Player string `mapstructure:"player"`
	Chips  uint64 `mapstructure:"chips"`
}

// Table is one configured game table.
type Table struct {
	Game            string `mapstructure:"game"`
	BettingMs       uint64 `mapstructure:"betting_ms"`
	LockMs          uint64 `mapstructure:"lock_ms"`
	PayoutMs        uint64 `mapstructure:"payout_ms"`
	CooldownMs      uint64 `mapstructure:"cooldown_ms"`
	MinBet          uint64 `mapstructure:"min_bet"`
	MaxBet          uint64 `mapstructure:"max_bet"`
	MaxBetsPerRound uint8  `mapstructure:"max_bets_per_round"`
}

// DefaultTables is the table set used when the config lists none.
func DefaultTables() []Table {
	return []Table{
		{Game: "craps", BettingMs: 20_000, LockMs: 2_000, PayoutMs: 3_000, CooldownMs: 5_000, MinBet: 1, MaxBet: 10_000, MaxBetsPerRound: 16},
		{Game: "roulette", BettingMs: 20_000, LockMs: 2_000, PayoutMs: 3_000, CooldownMs: 5_000, MinBet: 1, MaxBet: 10_000, MaxBetsPerRound: 16},
	}
}

// NewViper returns a viper instance with every default set and GTABLE_
// environment overrides enabled (engine.tick_ms -> GTABLE_ENGINE_TICK_MS).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := table.DefaultOptions()
	v.SetDefault("home", ".gtable")
	v.SetDefault("abci.addr", "tcp://127.0.0.1:26658")
	v.SetDefault("abci.transport", "socket")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "plain")
	v.SetDefault("engine.tick_ms", 100)
	v.SetDefault("engine.latency_buffer_ms", d.LatencyBufferMs)
	v.SetDefault("engine.settle_slice", d.SettleSlice)
	v.SetDefault("engine.snapshot_every", d.SnapshotEvery)
	v.SetDefault("engine.reveal_wait_ms", d.RevealWait.Milliseconds())
	v.SetDefault("engine.reveal_timeout_ms", d.RevealTimeoutMs)
	v.SetDefault("engine.stall_ceiling_ms", d.StallCeilingMs)
	v.SetDefault("engine.replay_budget_ms", 5000)
	v.SetDefault("engine.intake_capacity", d.IntakeCapacity)
	v.SetDefault("engine.ledger_retries", d.LedgerRetries)
	v.SetDefault("engine.validate_workers", d.ValidateWorkers)
	v.SetDefault("engine.auto_open", d.AutoOpen)
	v.SetDefault("fanout.queue_size", 256)
	v.SetDefault("fanout.critical_cap", 1024)
	v.SetDefault("app.admin", "")
	v.SetDefault("app.result_wait_ms", 1000)
	v.SetDefault("app.seed_retain", 1024)
	return v
}

// Load reads file (when non-empty) into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (Config, error) {
	var cfg Config
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, errorsmod.Wrapf(table.ErrInvalidConfig, "read %s: %v", file, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errorsmod.Wrap(table.ErrInvalidConfig, err.Error())
	}
	if len(cfg.Tables) == 0 {
		cfg.Tables = DefaultTables()
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.ABCI.Transport {
	case "socket", "grpc":
	default:
		return errorsmod.Wrapf(table.ErrInvalidConfig, "abci.transport %q", c.ABCI.Transport)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errorsmod.Wrapf(table.ErrInvalidConfig, "log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "plain", "json":
	default:
		return errorsmod.Wrapf(table.ErrInvalidConfig, "log.format %q", c.Log.Format)
	}
	if c.Engine.TickMs == 0 {
		return errorsmod.Wrap(table.ErrInvalidConfig, "engine.tick_ms must be > 0")
	}
	if c.Fanout.QueueSize <= 0 || c.Fanout.CriticalCap <= 0 {
		return errorsmod.Wrap(table.ErrInvalidConfig, "fanout queues must be > 0")
	}
	if _, err := c.TableConfigs(); err != nil {
		return err
	}
	if _, err := c.AppOptions(); err != nil {
		return err
	}
	_, err := c.Ledger.Funding()
	return err
}

// TableConfigs converts and validates the configured tables.
func (c Config) TableConfigs() ([]codec.TableConfig, error) {
	out := make([]codec.TableConfig, 0, len(c.Tables))
	seen := make(map[codec.GameType]bool, len(c.Tables))
	for i, t := range c.Tables {
		g, err := codec.ParseGameType(t.Game)
		if err != nil {
			return nil, errorsmod.Wrapf(table.ErrInvalidConfig, "tables[%d]: %v", i, err)
		}
		if seen[g] {
			return nil, errorsmod.Wrapf(table.ErrInvalidConfig, "tables[%d]: %s listed twice", i, g)
		}
		seen[g] = true
		tc := codec.TableConfig{
			GameType:        g,
			BettingMs:       t.BettingMs,
			LockMs:          t.LockMs,
			PayoutMs:        t.PayoutMs,
			CooldownMs:      t.CooldownMs,
			MinBet:          t.MinBet,
			MaxBet:          t.MaxBet,
			MaxBetsPerRound: t.MaxBetsPerRound,
		}
		if err := table.ValidateConfig(tc); err != nil {
			return nil, errorsmod.Wrapf(err, "tables[%d]", i)
		}
		out = append(out, tc)
	}
	return out, nil
}

func (e EngineConfig) Options() table.Options {
	return table.Options{
		LatencyBufferMs: e.LatencyBufferMs,
		SettleSlice:     e.SettleSlice,
		SnapshotEvery:   e.SnapshotEvery,
		RevealWait:      time.Duration(e.RevealWaitMs) * time.Millisecond,
		RevealTimeoutMs: e.RevealTimeoutMs,
		StallCeilingMs:  e.StallCeilingMs,
		IntakeCapacity:  e.IntakeCapacity,
		LedgerRetries:   e.LedgerRetries,
		ValidateWorkers: e.ValidateWorkers,
		AutoOpen:        e.AutoOpen,
	}
}

func (e EngineConfig) Tick() time.Duration { return time.Duration(e.TickMs) * time.Millisecond }

func (e EngineConfig) ReplayBudget() time.Duration {
	return time.Duration(e.ReplayBudgetMs) * time.Millisecond
}

func (c Config) AppOptions() (app.Options, error) {
	opts := app.Options{
		ResultWait: time.Duration(c.App.ResultWaitMs) * time.Millisecond,
		SeedRetain: c.App.SeedRetain,
	}
	if c.App.Admin != "" {
		p, err := codec.ParsePlayer(c.App.Admin)
		if err != nil {
			return opts, errorsmod.Wrapf(table.ErrInvalidConfig, "app.admin: %v", err)
		}
		opts.Admin = &p
	}
	return opts, nil
}

// Funding returns the opening balance of each configured devnet account.
func (l LedgerConfig) Funding() (map[codec.Player]uint64, error) {
	out := make(map[codec.Player]uint64, len(l.Accounts))
	for i, a := range l.Accounts {
		p, err := codec.ParsePlayer(a.Player)
		if err != nil {
			return nil, errorsmod.Wrapf(table.ErrInvalidConfig, "ledger.accounts[%d]: %v", i, err)
		}
		out[p] += a.Chips
	}
	return out, nil
}

// NewLogger builds the process logger at the configured level and format.
func NewLogger(c LogConfig, w io.Writer) (log.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return nil, errorsmod.Wrapf(table.ErrInvalidConfig, "log.level %q", c.Level)
	}
	opts := []log.Option{log.LevelOption(lvl)}
	if c.Format == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(w, opts...), nil
}
