package cache

import (
	"context"

	"go.uber.org/multierr"
)

// Tiered puts a short-lived near Store (usually Memory) in front of a
// shared far Store (usually Redis). Writes and invalidations go to both.
type Tiered struct {
	Near Store
	Far  Store
}

func NewTiered(near, far Store) *Tiered {
	return &Tiered{Near: near, Far: far}
}

func (t *Tiered) Get(ctx context.Context, kind Kind, corpID string) ([]byte, bool, error) {
	if v, ok, err := t.Near.Get(ctx, kind, corpID); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := t.Far.Get(ctx, kind, corpID)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.Near.Put(ctx, kind, corpID, v)
	return v, true, nil
}

func (t *Tiered) Put(ctx context.Context, kind Kind, corpID string, value []byte) error {
	return multierr.Append(
		t.Near.Put(ctx, kind, corpID, value),
		t.Far.Put(ctx, kind, corpID, value),
	)
}

// Invalidate clears both tiers even when one of them fails.
func (t *Tiered) Invalidate(ctx context.Context, corpID string) error {
	return multierr.Append(
		t.Near.Invalidate(ctx, corpID),
		t.Far.Invalidate(ctx, corpID),
	)
}
