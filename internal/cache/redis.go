package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

type Redis struct {
	rdb    r.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb r.Cmdable, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Redis) key(kind Kind, corpID string) string {
	if c.prefix == "" {
		return string(kind) + ":" + corpID
	}
	return c.prefix + ":" + string(kind) + ":" + corpID
}

func (c *Redis) Put(ctx context.Context, kind Kind, corpID string, value []byte) error {
	return errors.Wrap(c.rdb.Set(ctx, c.key(kind, corpID), value, c.ttl).Err(), "cache: redis set")
}

func (c *Redis) Get(ctx context.Context, kind Kind, corpID string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(kind, corpID)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "cache: redis get")
	}
	return b, true, nil
}

// Invalidate deletes every kind for corpID in one transaction.
func (c *Redis) Invalidate(ctx context.Context, corpID string) error {
	pipe := c.rdb.TxPipeline()
	for _, k := range Kinds {
		pipe.Del(ctx, c.key(k, corpID))
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "cache: invalidate %s", corpID)
}
