package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"globaltable/internal/codec"
)

var (
	alice = codec.Player{0xa1}
	bob   = codec.Player{0xb0}
)

func opened(id uint64) codec.Event {
	return codec.RoundOpened{Round: codec.Round{GameType: codec.GameRoulette, RoundID: id}}
}

func next(t *testing.T, s *Subscription) codec.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := s.Next(ctx)
	require.NoError(t, err)
	return env
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	h := NewHub(8, 8, nil)
	h.SetProgress(codec.Progress{Height: 5, View: 5})
	s, err := h.Subscribe("gw", nil)
	require.NoError(t, err)

	h.Publish(codec.GameRoulette, opened(1), true)
	h.Publish(codec.GameRoulette, opened(1), false)
	h.Publish(codec.GameRoulette, codec.Locked{GameType: codec.GameRoulette, RoundID: 1}, true)

	env := next(t, s)
	require.Equal(t, codec.EnvelopeEvents, env.Kind)
	require.Equal(t, uint64(5), env.Progress.Height)
	require.Len(t, env.Events, 3)
	require.IsType(t, codec.Locked{}, env.Events[2])

	// envelopes must encode
	_, err = codec.EncodeEnvelope(env)
	require.NoError(t, err)
}

func TestOptionalEventsAreShedButCriticalKept(t *testing.T) {
	h := NewHub(2, 16, nil)
	s, err := h.Subscribe("gw", nil)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		h.Publish(codec.GameRoulette, opened(i), false)
	}
	h.Publish(codec.GameRoulette, codec.Finalized{GameType: codec.GameRoulette, RoundID: 1}, true)
	require.Equal(t, uint64(3), s.Dropped())

	env := next(t, s)
	require.Len(t, env.Events, 3)
	require.Equal(t, uint64(4), env.Events[0].(codec.RoundOpened).Round.RoundID)
	require.Equal(t, uint64(5), env.Events[1].(codec.RoundOpened).Round.RoundID)
	require.IsType(t, codec.Finalized{}, env.Events[2])
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	h := NewHub(4, 2, nil)
	slow, err := h.Subscribe("slow", nil)
	require.NoError(t, err)
	fast, err := h.Subscribe("fast", nil)
	require.NoError(t, err)

	for i := uint64(1); i <= 2; i++ {
		h.Publish(codec.GameRoulette, codec.Finalized{GameType: codec.GameRoulette, RoundID: i}, true)
		require.Len(t, next(t, fast).Events, 1)
	}
	require.Equal(t, 2, h.Len())

	h.Publish(codec.GameRoulette, codec.Finalized{GameType: codec.GameRoulette, RoundID: 3}, true)
	require.Equal(t, 1, h.Len())
	_, err = slow.Next(context.Background())
	require.ErrorIs(t, err, ErrSlowConsumer)
	require.Len(t, next(t, fast).Events, 1)
}

func TestFilteredSubscription(t *testing.T) {
	h := NewHub(8, 8, nil)
	s, err := h.Subscribe("alice", &alice)
	require.NoError(t, err)

	h.Publish(codec.GameRoulette, codec.BetAccepted{Player: bob, RoundID: 1}, false)
	h.Publish(codec.GameRoulette, codec.BetAccepted{Player: alice, RoundID: 1}, false)
	h.Publish(codec.GameRoulette, codec.PlayerSettled{Player: bob, RoundID: 1}, true)
	h.Publish(codec.GameRoulette, codec.PlayerSettled{Player: alice, RoundID: 1}, true)
	h.Publish(codec.GameRoulette, codec.Finalized{GameType: codec.GameRoulette, RoundID: 1}, true)

	env := next(t, s)
	require.Equal(t, codec.EnvelopeFilteredEvents, env.Kind)
	require.Equal(t, alice, env.Filter)
	require.Len(t, env.Events, 3)
	require.Equal(t, alice, env.Events[0].(codec.BetAccepted).Player)
	require.Equal(t, alice, env.Events[1].(codec.PlayerSettled).Player)

	_, err = h.Subscribe("alice", nil)
	require.ErrorIs(t, err, ErrDuplicateSubscriber)
}

func TestHealthHeartbeats(t *testing.T) {
	h := NewHub(8, 8, nil)
	s, err := h.Subscribe("gw", nil)
	require.NoError(t, err)

	h.Publish(codec.GameCraps, codec.Locked{GameType: codec.GameCraps, RoundID: 1}, true)
	h.SetHealth(codec.GameCraps, true, "seed timeout")
	paused, reason := h.Paused(codec.GameCraps)
	require.True(t, paused)
	require.Equal(t, "seed timeout", reason)

	// events before the heartbeat come first, in their own envelope
	require.Equal(t, codec.EnvelopeEvents, next(t, s).Kind)
	hb := next(t, s)
	require.Equal(t, codec.EnvelopeHeartbeat, hb.Kind)
	require.True(t, hb.Paused)
	require.Equal(t, codec.GameCraps, hb.Game)
	require.Equal(t, "seed timeout", hb.Reason)

	// another table's heartbeat names that table
	h.SetHealth(codec.GameRoulette, true, "round stalled")
	hb = next(t, s)
	require.Equal(t, codec.GameRoulette, hb.Game)
	bz, err := codec.EncodeEnvelope(hb)
	require.NoError(t, err)
	decoded, err := codec.DecodeEnvelope(bz)
	require.NoError(t, err)
	require.Equal(t, codec.GameRoulette, decoded.Game)
	require.Equal(t, "round stalled", decoded.Reason)
	h.SetHealth(codec.GameRoulette, false, "")
	require.False(t, next(t, s).Paused)

	late, err := h.Subscribe("late", nil)
	require.NoError(t, err)
	lateHb := next(t, late)
	require.True(t, lateHb.Paused)
	require.Equal(t, codec.GameCraps, lateHb.Game)

	h.SetHealth(codec.GameCraps, false, "")
	paused, _ = h.Paused(codec.GameCraps)
	require.False(t, paused)
	require.False(t, next(t, s).Paused)
}

func TestCloseUnblocksNext(t *testing.T) {
	h := NewHub(8, 8, nil)
	s, err := h.Subscribe("gw", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		done <- err
	}()
	s.Close()
	require.ErrorIs(t, <-done, ErrClosed)
	require.Zero(t, h.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s2, err := h.Subscribe("gw", nil)
	require.NoError(t, err)
	_, err = s2.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
