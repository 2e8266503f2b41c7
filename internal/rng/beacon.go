package rng

import (
	"context"
	"sync"

	errorsmod "cosmossdk.io/errors"
)

// Beacon is an in-process SeedSource fed by the consensus adapter, one seed
// per committed view. Only the most recent retain views are kept.
type Beacon struct {
	mu     sync.Mutex
	seeds  map[uint64][]byte
	latest uint64
	retain uint64
	notify chan struct{}
}

func NewBeacon(retain uint64) *Beacon {
	if retain == 0 {
		retain = 1024
	}
	return &Beacon{
		seeds:  make(map[uint64][]byte),
		retain: retain,
		notify: make(chan struct{}),
	}
}

// Publish records the seed for view. Views must increase; republishing an
// older view is an error because a seed is immutable once observed.
func (b *Beacon) Publish(view uint64, seed []byte) error {
	if len(seed) == 0 {
		return errorsmod.Wrapf(ErrInvalidSeed, "empty seed for view %d", view)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if view <= b.latest && b.latest != 0 {
		return errorsmod.Wrapf(ErrInvalidSeed, "view %d not after latest %d", view, b.latest)
	}
	b.seeds[view] = append([]byte(nil), seed...)
	b.latest = view
	if view > b.retain {
		for v := range b.seeds {
			if v <= view-b.retain {
				delete(b.seeds, v)
			}
		}
	}
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

func (b *Beacon) Latest() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Beacon) Seed(ctx context.Context, view uint64) ([]byte, error) {
	for {
		b.mu.Lock()
		if s, ok := b.seeds[view]; ok {
			b.mu.Unlock()
			return append([]byte(nil), s...), nil
		}
		if view <= b.latest {
			b.mu.Unlock()
			return nil, errorsmod.Wrapf(ErrSeedMissing, "view %d (latest %d)", view, b.latest)
		}
		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errorsmod.Wrapf(ErrSeedUnavailable, "view %d: %v", view, ctx.Err())
		case <-ch:
		}
	}
}
