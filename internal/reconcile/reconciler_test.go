package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/corpsignal/internal/cache"
	"github.com/SirClappington/corpsignal/internal/domain"
	"github.com/SirClappington/corpsignal/internal/poller"
)

type collectNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (c *collectNotifier) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

func (c *collectNotifier) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.sent...)
}

func seeded() *cache.Memory {
	ctx := context.Background()
	m := cache.NewMemory(0)
	_ = m.Put(ctx, cache.Profile, "c-1", []byte("stale profile"))
	_ = m.Put(ctx, cache.Insight, "c-1", []byte("stale insight"))
	return m
}

func TestReconcile_SuccessInvalidatesByCorp(t *testing.T) {
	m := seeded()
	require.NoError(t, m.Put(context.Background(), cache.Profile, "c-2", []byte("other")))
	notes := &collectNotifier{}
	r := New(m, notes, nil)

	n, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{
		Kind:  poller.Succeeded,
		JobID: "j1",
		Job:   &domain.Job{ID: "j1", Status: domain.Done},
	})
	require.NoError(t, err)

	assert.Equal(t, JobSucceeded, n.Kind)
	assert.Equal(t, "j1", n.JobID)
	_, ok, _ := m.Get(context.Background(), cache.Profile, "c-1")
	assert.False(t, ok)
	_, ok, _ = m.Get(context.Background(), cache.Profile, "c-2")
	assert.True(t, ok)
	assert.Equal(t, []Notification{n}, notes.all())
}

func TestReconcile_FailureLeavesCache(t *testing.T) {
	m := seeded()
	notes := &collectNotifier{}
	r := New(m, notes, nil)

	n, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{
		Kind:  poller.Failed,
		JobID: "j3",
		Err:   &poller.JobFailedError{JobID: "j3", Code: "X", Message: "boom"},
	})
	require.NoError(t, err)

	assert.Equal(t, JobFailed, n.Kind)
	assert.Equal(t, "X", n.Code)
	assert.Equal(t, "boom", n.Message)
	assert.Equal(t, 2, m.Len())
}

func TestReconcile_TimeoutLeavesCache(t *testing.T) {
	m := seeded()
	r := New(m, nil, nil)

	n, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{
		Kind:    poller.TimedOut,
		JobID:   "j2",
		Err:     poller.ErrTimedOut,
		Elapsed: 120 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, JobTimedOut, n.Kind)
	assert.Contains(t, n.Message, "exceeded time budget")
	assert.Contains(t, n.Message, "2m0s")
	assert.Equal(t, 2, m.Len())
}

func TestReconcile_KindsAreDistinct(t *testing.T) {
	r := New(cache.NewMemory(0), nil, nil)
	seen := map[Kind]string{}
	for _, kind := range []poller.OutcomeKind{poller.Succeeded, poller.Failed, poller.TimedOut} {
		n, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{Kind: kind})
		require.NoError(t, err)
		_, dup := seen[n.Kind]
		assert.False(t, dup, "kind %s reused", n.Kind)
		for _, title := range seen {
			assert.NotEqual(t, title, n.Title)
		}
		seen[n.Kind] = n.Title
	}
	assert.Len(t, seen, 3)
}

func TestReconcile_InvalidateTwiceIsIdempotent(t *testing.T) {
	m := seeded()
	require.NoError(t, m.Put(context.Background(), cache.Report, "c-9", []byte("keep")))
	r := New(m, nil, nil)
	out := poller.Outcome{Kind: poller.Succeeded, JobID: "j1"}

	_, err := r.Reconcile(context.Background(), "c-1", out)
	require.NoError(t, err)
	after1 := m.Len()
	_, err = r.Reconcile(context.Background(), "c-1", out)
	require.NoError(t, err)

	assert.Equal(t, after1, m.Len())
	v, ok, _ := m.Get(context.Background(), cache.Report, "c-9")
	require.True(t, ok)
	assert.Equal(t, []byte("keep"), v)
}

type blockingInvalidator struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingInvalidator) Invalidate(context.Context, string) error {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return nil
}

func TestReconcile_OverlappingSuccessesInvalidateOnce(t *testing.T) {
	inv := &blockingInvalidator{entered: make(chan struct{}), release: make(chan struct{})}
	notes := &collectNotifier{}
	r := New(inv, notes, nil)

	var wg sync.WaitGroup
	run := func(jobID string) {
		defer wg.Done()
		_, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{Kind: poller.Succeeded, JobID: jobID})
		assert.NoError(t, err)
	}

	wg.Add(2)
	go run("j1")
	<-inv.entered
	go run("j2")
	time.Sleep(50 * time.Millisecond)
	close(inv.release)
	wg.Wait()

	assert.Equal(t, int32(1), inv.calls.Load())
	assert.Len(t, notes.all(), 2, "each session still notifies")
}

type errInvalidator struct{}

func (errInvalidator) Invalidate(context.Context, string) error { return errors.New("redis down") }

func TestReconcile_InvalidationErrorStillNotifies(t *testing.T) {
	notes := &collectNotifier{}
	r := New(errInvalidator{}, notes, nil)

	n, err := r.Reconcile(context.Background(), "c-1", poller.Outcome{Kind: poller.Succeeded, JobID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, JobSucceeded, n.Kind)
	assert.Len(t, notes.all(), 1)
}
