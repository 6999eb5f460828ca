package cache

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_InvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Put(ctx, Profile, "c-1", []byte("p1")))
	require.NoError(t, m.Put(ctx, Insight, "c-1", []byte("i1")))
	require.NoError(t, m.Put(ctx, Profile, "c-2", []byte("p2")))

	require.NoError(t, m.Invalidate(ctx, "c-1"))
	_, ok, err := m.Get(ctx, Profile, "c-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Invalidate(ctx, "c-1"))
	assert.Equal(t, 1, m.Len())
	v, ok, err := m.Get(ctx, Profile, "c-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("p2"), v)
}

func TestMemory_PutCopiesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	v := []byte("abc")
	require.NoError(t, m.Put(ctx, Report, "c-1", v))
	v[0] = 'x'
	got, _, _ := m.Get(ctx, Report, "c-1")
	assert.Equal(t, []byte("abc"), got)
}

func TestMemory_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(20 * time.Millisecond)
	require.NoError(t, m.Put(ctx, Profile, "c-1", []byte("p")))

	_, ok, _ := m.Get(ctx, Profile, "c-1")
	assert.True(t, ok)
	time.Sleep(40 * time.Millisecond)
	_, ok, _ = m.Get(ctx, Profile, "c-1")
	assert.False(t, ok)
}

type failingStore struct {
	*Memory
	err error
}

func (f failingStore) Put(context.Context, Kind, string, []byte) error { return f.err }
func (f failingStore) Invalidate(context.Context, string) error { return f.err }

func TestTiered_FillsNearFromFar(t *testing.T) {
	ctx := context.Background()
	near, far := NewMemory(time.Minute), NewMemory(0)
	require.NoError(t, far.Put(ctx, Profile, "c-1", []byte("p")))

	tc := NewTiered(near, far)
	v, ok, err := tc.Get(ctx, Profile, "c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("p"), v)
	assert.Equal(t, 1, near.Len())

	require.NoError(t, tc.Invalidate(ctx, "c-1"))
	_, ok, _ = tc.Get(ctx, Profile, "c-1")
	assert.False(t, ok)
}

func TestTiered_InvalidateJoinsErrors(t *testing.T) {
	ctx := context.Background()
	near := NewMemory(0)
	require.NoError(t, near.Put(ctx, Profile, "c-1", []byte("p")))
	down := errors.New("redis down")

	err := NewTiered(near, failingStore{Memory: NewMemory(0), err: down}).Invalidate(ctx, "c-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, down))
	assert.Zero(t, near.Len(), "healthy tier is still invalidated")
}

func TestReader_ReadsThrough(t *testing.T) {
	ctx := context.Background()
	rd := NewReader(NewMemory(0), nil)
	var loads atomic.Int32
	load := func(context.Context) ([]byte, error) {
		loads.Add(1)
		return []byte("profile"), nil
	}

	v, hit, err := rd.Read(ctx, Profile, "c-1", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("profile"), v)

	v, hit, err = rd.Read(ctx, Profile, "c-1", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("profile"), v)
	assert.EqualValues(t, 1, loads.Load())

	require.NoError(t, rd.Invalidate(ctx, "c-1"))
	_, hit, err = rd.Read(ctx, Profile, "c-1", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 2, loads.Load())
}

func TestReader_LoadErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	rd := NewReader(m, nil)
	boom := errors.New("backend down")

	_, _, err := rd.Read(ctx, Profile, "c-1", func(context.Context) ([]byte, error) { return nil, boom })
	assert.True(t, errors.Is(err, boom))
	assert.Zero(t, m.Len())
}

func TestReader_InvalidationDuringLoadSkipsFill(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	rd := NewReader(m, nil)

	_, _, err := rd.Read(ctx, Profile, "c-1", func(ctx context.Context) ([]byte, error) {
		require.NoError(t, rd.Invalidate(ctx, "c-1"))
		return []byte("stale"), nil
	})
	require.NoError(t, err)
	_, ok, _ := m.Get(ctx, Profile, "c-1")
	assert.False(t, ok, "a load that overlapped an invalidation must not be cached")
}

func TestRedis_Key(t *testing.T) {
	assert.Equal(t, "corpsignal:profile:c-1", NewRedis(nil, "corpsignal", 0).key(Profile, "c-1"))
	assert.Equal(t, "insight:c-1", NewRedis(nil, "", 0).key(Insight, "c-1"))
}

func TestRedis_Invalidate(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := r.NewClient(&r.Options{Addr: addr})
	defer rdb.Close()

	c := NewRedis(rdb, "test-"+uuid.NewString(), time.Minute)
	require.NoError(t, c.Put(ctx, Profile, "c-1", []byte("p")))
	require.NoError(t, c.Put(ctx, Signals, "c-1", []byte("s")))
	require.NoError(t, c.Put(ctx, Profile, "c-2", []byte("p2")))

	require.NoError(t, c.Invalidate(ctx, "c-1"))
	require.NoError(t, c.Invalidate(ctx, "c-1"))

	_, ok, err := c.Get(ctx, Profile, "c-1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, Signals, "c-1")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := c.Get(ctx, Profile, "c-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("p2"), v)
	require.NoError(t, c.Invalidate(ctx, "c-2"))
}
