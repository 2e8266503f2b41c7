package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
	"globaltable/internal/table"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	require.Equal(t, "tcp://127.0.0.1:26658", cfg.ABCI.Addr)
	require.Equal(t, 100*time.Millisecond, cfg.Engine.Tick())
	require.Equal(t, 5*time.Second, cfg.Engine.ReplayBudget())
	require.Equal(t, table.DefaultOptions(), cfg.Engine.Options())

	tables, err := cfg.TableConfigs()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	require.Equal(t, codec.GameCraps, tables[0].GameType)
	require.Equal(t, codec.GameRoulette, tables[1].GameType)

	opts, err := cfg.AppOptions()
	require.NoError(t, err)
	require.Nil(t, opts.Admin)
	require.Equal(t, time.Second, opts.ResultWait)
	require.Equal(t, uint64(1024), opts.SeedRetain)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GTABLE_ENGINE_TICK_MS", "25")
	t.Setenv("GTABLE_LOG_FORMAT", "json")
	t.Setenv("GTABLE_ENGINE_AUTO_OPEN", "false")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	require.Equal(t, 25*time.Millisecond, cfg.Engine.Tick())
	require.Equal(t, "json", cfg.Log.Format)
	require.False(t, cfg.Engine.Options().AutoOpen)
}

const fileConfig = `
log:
  level: debug
engine:
  settle_slice: 32
app:
  admin: "0x0101010101010101010101010101010101010101010101010101010101010101"
ledger:
  accounts:
    - player: "0202020202020202020202020202020202020202020202020202020202020202"
      chips: 500
    - player: "0202020202020202020202020202020202020202020202020202020202020202"
      chips: 250
tables:
  - game: roulette
    betting_ms: 15000
    lock_ms: 1000
    payout_ms: 2000
    cooldown_ms: 3000
    min_bet: 5
    max_bet: 500
    max_bets_per_round: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFile(t *testing.T) {
	cfg, err := Load(NewViper(), writeConfig(t, fileConfig))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 32, cfg.Engine.Options().SettleSlice)

	tables, err := cfg.TableConfigs()
	require.NoError(t, err)
	require.Equal(t, []codec.TableConfig{{
		GameType:        codec.GameRoulette,
		BettingMs:       15000,
		LockMs:          1000,
		PayoutMs:        2000,
		CooldownMs:      3000,
		MinBet:          5,
		MaxBet:          500,
		MaxBetsPerRound: 10,
	}}, tables)

	opts, err := cfg.AppOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.Admin)
	require.Equal(t, byte(1), opts.Admin[31])

	funds, err := cfg.Ledger.Funding()
	require.NoError(t, err)
	var p codec.Player
	for i := range p {
		p[i] = 2
	}
	require.Equal(t, map[codec.Player]uint64{p: 750}, funds)
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown game":   "tables:\n  - game: poker\n",
		"zero durations": "tables:\n  - game: craps\n    min_bet: 1\n    max_bet: 2\n    max_bets_per_round: 1\n",
		"duplicate":      "tables:\n" + strings.Repeat("  - {game: craps, betting_ms: 1, lock_ms: 1, payout_ms: 1, cooldown_ms: 1, min_bet: 1, max_bet: 1, max_bets_per_round: 1}\n", 2),
		"log level":      "log:\n  level: loud\n",
		"log format":     "log:\n  format: xml\n",
		"transport":      "abci:\n  transport: http\n",
		"admin":          "app:\n  admin: zz\n",
		"account":        "ledger:\n  accounts:\n    - player: \"01\"\n      chips: 1\n",
		"tick":           "engine:\n  tick_ms: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(NewViper(), writeConfig(t, body))
			require.ErrorIs(t, err, table.ErrInvalidConfig)
		})
	}

	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, table.ErrInvalidConfig)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "game", "craps")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"message":"shown"`)
	require.Contains(t, out, `"game":"craps"`)

	_, err = NewLogger(LogConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}
