package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the authoritative value for a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// Reader reads through a Store. It is also the Invalidator to hand to
// reconciliation, so that a load which started before an invalidation never
// writes its stale result back.
type Reader struct {
	store Store
	log   *zap.Logger
	group singleflight.Group

	// mu orders generation checks and writes against Invalidate.
	mu  sync.Mutex
	gen map[string]uint64
}

func NewReader(store Store, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{store: store, log: log, gen: make(map[string]uint64)}
}

// Read returns the cached kind entry of corpID, calling load and storing
// its result on a miss. The bool reports a cache hit. A Store error counts
// as a miss.
func (r *Reader) Read(ctx context.Context, kind Kind, corpID string, load Loader) ([]byte, bool, error) {
	v, ok, err := r.store.Get(ctx, kind, corpID)
	if err != nil {
		r.log.Warn("cache read failed", zap.String("kind", string(kind)), zap.String("corp_id", corpID), zap.Error(err))
	} else if ok {
		return v, true, nil
	}

	res, err, _ := r.group.Do(flightKey(kind, corpID), func() (any, error) {
		r.mu.Lock()
		gen := r.gen[corpID]
		r.mu.Unlock()

		b, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.fill(ctx, kind, corpID, gen, b)
		return b, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.([]byte), false, nil
}

func (r *Reader) fill(ctx context.Context, kind Kind, corpID string, gen uint64, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[corpID] != gen {
		r.log.Debug("cache fill skipped after invalidation", zap.String("kind", string(kind)), zap.String("corp_id", corpID))
		return
	}
	if err := r.store.Put(ctx, kind, corpID, b); err != nil {
		r.log.Warn("cache write failed", zap.String("kind", string(kind)), zap.String("corp_id", corpID), zap.Error(err))
	}
}

func (r *Reader) Invalidate(ctx context.Context, corpID string) error {
	r.mu.Lock()
	r.gen[corpID]++
	r.mu.Unlock()
	for _, k := range Kinds {
		r.group.Forget(flightKey(k, corpID))
	}
	return r.store.Invalidate(ctx, corpID)
}

func flightKey(kind Kind, corpID string) string {
	return string(kind) + ":" + corpID
}
