package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
	"globaltable/internal/games"
	"globaltable/internal/rng"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDecodeInstructionFrames(t *testing.T) {
	b, err := codec.EncodeInstructionFrame(nil, codec.OpenRound{GameType: codec.GameRoulette})
	require.NoError(t, err)
	b, err = codec.EncodeInstructionFrame(b, codec.SubmitBets{GameType: codec.GameRoulette, RoundID: 4, Bets: []codec.Bet{{Amount: 10}}})
	require.NoError(t, err)

	out, err := run(t, "decode", hex.EncodeToString(b))
	require.NoError(t, err)
	require.Contains(t, out, "frame 0: open_round")
	require.Contains(t, out, "frame 1: submit_bets")
}

func TestDecodeEventAndRound(t *testing.T) {
	b, err := codec.EncodeEvent(codec.Locked{GameType: codec.GameCraps, RoundID: 9, PhaseEndsAt: 1234})
	require.NoError(t, err)
	out, err := run(t, "decode", "0x"+hex.EncodeToString(b))
	require.NoError(t, err)
	require.Contains(t, out, "event locked")
	require.Contains(t, out, "RoundID:9")

	_, err = run(t, "decode", "zz")
	require.Error(t, err)
}

func TestAudit(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	roll := rng.RollSeed(seed, 12, codec.GameCraps)
	want := games.Craps{}.Resolve(roll, codec.CrapsOutcome{MainPoint: 6})
	commit := rng.CommitAt(codec.GameCraps, 12, 40).Digest

	out, err := run(t, "audit",
		"--seed", hex.EncodeToString(seed),
		"--round", "12",
		"--game", "craps",
		"--point", "6",
		"--target-view", "40",
		"--commit", hex.EncodeToString(commit[:]),
	)
	require.NoError(t, err)
	require.Contains(t, out, "commitment ok")
	require.Contains(t, out, fmt.Sprintf("roll seed: %x", roll))
	require.Contains(t, out, fmt.Sprintf("outcome:   %+v", want))

	_, err = run(t, "audit", "--seed", hex.EncodeToString(seed), "--round", "12", "--target-view", "41", "--commit", hex.EncodeToString(commit[:]))
	require.ErrorIs(t, err, rng.ErrCommitMismatch)
}
