package rng

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"

	errorsmod "cosmossdk.io/errors"

	"globaltable/internal/codec"
)

const (
	// Keep these domains stable; auditors recompute them.
	commitDomain = "gtable/v1/commit"
	rollDomain   = "gtable/v1/roll"

	// MsPerView converts a lock duration into a number of consensus views.
	MsPerView uint64 = 1000
)

const codespace = "rng"

var (
	ErrSeedUnavailable = errorsmod.Register(codespace, 1, "seed not available")
	ErrSeedMissing     = errorsmod.Register(codespace, 2, "seed was never published")
	ErrCommitMismatch  = errorsmod.Register(codespace, 3, "commitment mismatch")
	ErrInvalidSeed     = errorsmod.Register(codespace, 4, "invalid seed")
)

// SeedSource supplies externally produced randomness keyed by consensus view.
// Seed blocks until the seed for view exists or ctx ends.
type SeedSource interface {
	Seed(ctx context.Context, view uint64) ([]byte, error)
	Latest() uint64
}

// Commitment is a public declaration of which future seed decides a round. It
// holds no secret: anyone can recompute Digest from the other fields.
type Commitment struct {
	GameType   codec.GameType
	RoundID    uint64
	TargetView uint64
	Digest     [32]byte
}

func (c Commitment) Bytes() []byte { return append([]byte(nil), c.Digest[:]...) }

func (c Commitment) IsZero() bool { return c.TargetView == 0 }

// Commit names a target view strictly after latestView and far enough ahead to
// cover the lock buffer, so the seed cannot exist before the lock deadline.
func Commit(g codec.GameType, roundID, latestView, lockMs uint64) Commitment {
	target := latestView + lockMs/MsPerView + 1
	return Commitment{
		GameType:   g,
		RoundID:    roundID,
		TargetView: target,
		Digest:     commitDigest(g, roundID, target),
	}
}

func commitDigest(g codec.GameType, roundID, target uint64) [32]byte {
	return hashDomain(commitDomain, []byte{uint8(g)}, u64be(roundID), u64be(target))
}

// Verify checks that c is internally consistent.
func Verify(c Commitment) error {
	if commitDigest(c.GameType, c.RoundID, c.TargetView) != c.Digest {
		return errorsmod.Wrapf(ErrCommitMismatch, "round %d view %d", c.RoundID, c.TargetView)
	}
	return nil
}

// VerifyBytes checks a published rngCommit against the declared target view.
func VerifyBytes(g codec.GameType, roundID, targetView uint64, commit []byte) error {
	want := commitDigest(g, roundID, targetView)
	if !bytes.Equal(want[:], commit) {
		return errorsmod.Wrapf(ErrCommitMismatch, "round %d view %d", roundID, targetView)
	}
	return nil
}

// Reveal waits for the committed seed and derives the round's roll seed. The
// wait is bounded by ctx; expiry is returned as ErrSeedUnavailable.
func Reveal(ctx context.Context, src SeedSource, c Commitment) ([32]byte, error) {
	if err := Verify(c); err != nil {
		return [32]byte{}, err
	}
	seed, err := src.Seed(ctx, c.TargetView)
	if err != nil {
		return [32]byte{}, err
	}
	if len(seed) == 0 {
		return [32]byte{}, errorsmod.Wrapf(ErrInvalidSeed, "empty seed for view %d", c.TargetView)
	}
	return RollSeed(seed, c.RoundID, c.GameType), nil
}

// RollSeed is H(seed ‖ roundId ‖ gameId). It is pure so auditors holding the
// seed can reproduce every outcome.
func RollSeed(seed []byte, roundID uint64, g codec.GameType) [32]byte {
	return hashDomain(rollDomain, seed, u64be(roundID), []byte{uint8(g)})
}

func hashDomain(domain string, parts ...[]byte) [32]byte {
	h := sha256.New()
	_, _ = h.Write([]byte(domain))

	var lenBuf [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(p)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// CommitAt rebuilds the commitment for a known target view.
func CommitAt(g codec.GameType, roundID, targetView uint64) Commitment {
	return Commitment{
		GameType:   g,
		RoundID:    roundID,
		TargetView: targetView,
		Digest:     commitDigest(g, roundID, targetView),
	}
}
