// Package refresh keeps the per-corporation state behind the dashboard's
// "refresh analysis" flow: it triggers a backend job, polls it, and
// reconciles caches once the job ends.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
	"github.com/SirClappington/corpsignal/internal/jobapi"
	"github.com/SirClappington/corpsignal/internal/poller"
	"github.com/SirClappington/corpsignal/internal/reconcile"
	"github.com/SirClappington/corpsignal/internal/storage"
)

var (
	ErrInProgress = errors.New("refresh: job already in progress")
	ErrNotFound   = errors.New("refresh: no job for corporation")
	ErrClosed     = errors.New("refresh: manager closed")
)

// TriggerError means the backend did not start a job. No poll session
// exists for the corporation afterwards.
type TriggerError struct {
	CorpID string
	Err    error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("refresh: trigger for %s failed: %v", e.CorpID, e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }

type JobAPI interface {
	Trigger(ctx context.Context, jobType domain.JobType, corpID string) (*jobapi.TriggerResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Journal stores finished sessions. It is optional.
type Journal interface {
	RecordOutcome(ctx context.Context, rec *storage.OutcomeRecord) error
	RecentOutcomes(ctx context.Context, corpID string, limit int) ([]storage.OutcomeRecord, error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// ReconcileTimeout bounds cache invalidation and journaling after a
	// session ends.
	ReconcileTimeout time.Duration
}

type tracked struct {
	corpID  string
	jobType domain.JobType
	poller  *poller.Poller

	// reconciled is closed once a terminal outcome has been reconciled and
	// journaled.
	reconciled chan struct{}

	// Guarded by Manager.mu.
	notification *reconcile.Notification
}

type Manager struct {
	api     JobAPI
	rec     *reconcile.Reconciler
	journal Journal
	cfg     Config
	log     *zap.Logger

	// finishing counts reconciliations still running.
	finishing sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	starting map[string]struct{}
	sessions map[string]*tracked
}

func NewManager(api JobAPI, rec *reconcile.Reconciler, journal Journal, cfg Config, log *zap.Logger) (*Manager, error) {
	if err := (poller.Config{Interval: cfg.Interval, Timeout: cfg.Timeout}).Validate(); err != nil {
		return nil, err
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		api:      api,
		rec:      rec,
		journal:  journal,
		cfg:      cfg,
		log:      log,
		starting: make(map[string]struct{}),
		sessions: make(map[string]*tracked),
	}, nil
}

// Refresh triggers a jobType job for corpID and starts polling it.
func (m *Manager) Refresh(ctx context.Context, corpID string, jobType domain.JobType) (View, error) {
	if corpID == "" {
		return View{}, errors.New("refresh: empty corporation id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return View{}, ErrClosed
	}
	if _, ok := m.starting[corpID]; ok {
		m.mu.Unlock()
		return View{}, ErrInProgress
	}
	if t, ok := m.sessions[corpID]; ok && t.poller.State() == poller.StatePolling {
		m.mu.Unlock()
		return View{}, ErrInProgress
	}
	m.starting[corpID] = struct{}{}
	m.mu.Unlock()

	t, err := m.start(ctx, corpID, jobType)

	m.mu.Lock()
	delete(m.starting, corpID)
	var old *tracked
	if err == nil {
		if m.closed {
			err = ErrClosed
		} else {
			old = m.sessions[corpID]
			m.sessions[corpID] = t
		}
	}
	m.mu.Unlock()

	if err != nil {
		if t != nil {
			t.poller.Close()
		}
		return View{}, err
	}
	if old != nil {
		old.poller.Close()
	}
	return m.viewOf(t), nil
}

func (m *Manager) start(ctx context.Context, corpID string, jobType domain.JobType) (*tracked, error) {
	log := m.log.With(zap.String("corp_id", corpID), zap.String("job_type", string(jobType)))

	res, err := m.api.Trigger(ctx, jobType, corpID)
	if err != nil {
		log.Warn("job trigger failed", zap.Error(err))
		return nil, &TriggerError{CorpID: corpID, Err: err}
	}

	t := &tracked{corpID: corpID, jobType: jobType, reconciled: make(chan struct{})}
	p, err := poller.New(m.api, poller.Config{
		Interval: m.cfg.Interval,
		Timeout:  m.cfg.Timeout,
		Logger:   log,
		OnTimeout: func(jobID string) {
			log.Warn("job exceeded poll budget", zap.String("job_id", jobID), zap.Duration("budget", m.cfg.Timeout))
		},
		OnTerminal: func(out poller.Outcome) {
			m.finishing.Add(1)
			go func() {
				defer m.finishing.Done()
				m.finish(t, out)
			}()
		},
	})
	if err != nil {
		return nil, err
	}
	t.poller = p
	p.Start(res.JobID)
	log.Info("job refresh started", zap.String("job_id", res.JobID))
	return t, nil
}

// finish reconciles and journals a terminal outcome. It runs on its own
// goroutine, outside the poller's callback lock.
func (m *Manager) finish(t *tracked, out poller.Outcome) {
	defer close(t.reconciled)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconcileTimeout)
	defer cancel()

	log := m.log.With(zap.String("corp_id", t.corpID), zap.String("job_id", out.JobID))
	n, err := m.rec.Reconcile(ctx, t.corpID, out)
	if err != nil {
		log.Error("reconcile failed", zap.Error(err))
	}

	m.mu.Lock()
	t.notification = &n
	m.mu.Unlock()

	if m.journal != nil {
		rec := recordFor(t, out)
		if err := m.journal.RecordOutcome(ctx, &rec); err != nil {
			log.Error("journal outcome failed", zap.Error(err))
		}
	}
}

// Cancel stops polling for corpID. Responses still in flight are dropped.
func (m *Manager) Cancel(corpID string) bool {
	m.mu.Lock()
	t, ok := m.sessions[corpID]
	m.mu.Unlock()
	if !ok || t.poller.State() != poller.StatePolling {
		return false
	}
	t.poller.SetEnabled(false)
	return true
}

func (m *Manager) View(corpID string) (View, error) {
	m.mu.Lock()
	t, ok := m.sessions[corpID]
	m.mu.Unlock()
	if !ok {
		return View{}, ErrNotFound
	}
	return m.viewOf(t), nil
}

// Wait blocks until the current session for corpID ends and its outcome
// has been reconciled.
func (m *Manager) Wait(ctx context.Context, corpID string) (poller.Outcome, error) {
	m.mu.Lock()
	t, ok := m.sessions[corpID]
	m.mu.Unlock()
	if !ok {
		return poller.Outcome{}, ErrNotFound
	}
	out, err := t.poller.Wait(ctx)
	if err != nil {
		return out, err
	}
	select {
	case <-t.reconciled:
		return out, nil
	case <-ctx.Done():
		return poller.Outcome{}, ctx.Err()
	}
}

// History lists finished sessions for corpID, newest first. Without a
// journal it is always empty.
func (m *Manager) History(ctx context.Context, corpID string, limit int) ([]storage.OutcomeRecord, error) {
	if m.journal == nil {
		return []storage.OutcomeRecord{}, nil
	}
	recs, err := m.journal.RecentOutcomes(ctx, corpID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []storage.OutcomeRecord{}
	}
	return recs, nil
}

// Close stops every session and waits for reconciliations already under way,
// each bounded by Config.ReconcileTimeout.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		all = append(all, t)
	}
	m.mu.Unlock()

	for _, t := range all {
		t.poller.Close()
	}
	m.finishing.Wait()
}

func recordFor(t *tracked, out poller.Outcome) storage.OutcomeRecord {
	rec := storage.OutcomeRecord{
		SessionID:  out.SessionID,
		JobID:      out.JobID,
		JobType:    string(t.jobType),
		CorpID:     t.corpID,
		Outcome:    string(out.Kind),
		Fetches:    out.Fetches,
		StartedAt:  out.StartedAt,
		FinishedAt: out.StartedAt.Add(out.Elapsed),
	}
	var fe *poller.JobFailedError
	switch {
	case errors.As(out.Err, &fe):
		rec.ErrorCode = fe.Code
		rec.ErrorMessage = fe.Message
	case out.Err != nil:
		rec.ErrorMessage = out.Err.Error()
	}
	return rec
}
