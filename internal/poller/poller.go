// Package poller tracks one backend job at a time by fetching its status at
// a fixed interval until the job is DONE or FAILED, the time budget runs
// out, or polling is switched off.
//
// A Poller moves through
//
//	IDLE -> POLLING -> SUCCEEDED | FAILED | TIMED_OUT
//
// Each POLLING period is a session. A terminal session is never resumed;
// only assigning a different job id returns the poller to IDLE.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
)

var (
	// ErrTimedOut marks a session that ran out of budget before the backend
	// reported a terminal status.
	ErrTimedOut  = errors.New("poller: operation exceeded time budget")
	ErrCancelled = errors.New("poller: session cancelled")
	ErrNoSession = errors.New("poller: no session")
)

// Fetcher returns the current status of a job.
type Fetcher interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

type State int

const (
	StateIdle State = iota
	StatePolling
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePolling:
		return "POLLING"
	case StateSucceeded:
		return "TERMINAL_SUCCESS"
	case StateFailed:
		return "TERMINAL_FAILURE"
	case StateTimedOut:
		return "TERMINAL_TIMEOUT"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

type OutcomeKind string

const (
	Succeeded OutcomeKind = "succeeded"
	Failed    OutcomeKind = "failed"
	TimedOut  OutcomeKind = "timed_out"
)

// JobFailedError carries the backend's reason for a FAILED job.
type JobFailedError struct {
	JobID   string
	Code    string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
	}
	return fmt.Sprintf("job %s failed: %s (%s)", e.JobID, e.Message, e.Code)
}

// Outcome describes how a session ended.
type Outcome struct {
	Kind      OutcomeKind
	SessionID string
	JobID     string
	// Job is the last status observed, nil if no fetch ever succeeded.
	Job       *domain.Job
	Err       error
	Fetches   int
	StartedAt time.Time
	Elapsed   time.Duration
}

type Snapshot struct {
	SessionID string
	Seq       uint64
	JobID     string
	Enabled   bool
	State     State
	Job       *domain.Job
	Elapsed   time.Duration
	Fetches   int
	Failures  int
	LastErr   error
	Outcome   *Outcome
}

type Poller struct {
	fetcher Fetcher
	cfg     Config
	log     *zap.Logger

	// emitMu orders callback delivery against cancellation: once a
	// cancelling call returns, no callback for the old session can run.
	emitMu sync.Mutex

	mu      sync.Mutex
	jobID   string
	enabled bool
	closed  bool
	seq     uint64
	cur     *session
}

func New(f Fetcher, cfg Config) (*Poller, error) {
	if f == nil {
		return nil, errors.New("poller: nil fetcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		fetcher: f,
		cfg:     cfg,
		log:     log,
		enabled: !cfg.Disabled,
	}, nil
}

// SetJob points the poller at jobID. Any running session is cancelled. A
// non-empty id starts a new session when polling is enabled.
func (p *Poller) SetJob(jobID string) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || jobID == p.jobID {
		return
	}
	p.stopLocked()
	prev := p.cur
	p.jobID = jobID
	p.cur = nil
	if p.enabled && jobID != "" {
		p.beginLocked(prev)
	}
}

// SetEnabled gates polling. Disabling cancels a running session and
// discards any response still in flight. Enabling starts a session only
// from IDLE.
func (p *Poller) SetEnabled(enabled bool) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || enabled == p.enabled {
		return
	}
	p.enabled = enabled
	if !enabled {
		p.stopLocked()
		return
	}
	if p.jobID != "" && (p.cur == nil || p.cur.state == StateIdle) {
		p.beginLocked(p.cur)
	}
}

// Start is SetJob followed by SetEnabled(true).
func (p *Poller) Start(jobID string) {
	p.SetJob(jobID)
	p.SetEnabled(true)
}

// Close cancels the running session and makes every later call a no-op.
func (p *Poller) Close() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.closed = true
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return StateIdle
	}
	return p.cur.state
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{JobID: p.jobID, Enabled: p.enabled, State: StateIdle}
	s := p.cur
	if s == nil {
		return snap
	}
	snap.SessionID = s.id
	snap.Seq = s.seq
	snap.State = s.state
	snap.Job = s.latest.Clone()
	snap.Elapsed = s.elapsed()
	snap.Fetches = s.fetches
	snap.Failures = s.failures
	snap.LastErr = s.lastErr
	if s.outcome != nil {
		out := *s.outcome
		snap.Outcome = &out
	}
	return snap
}

// Wait blocks until the current session ends. It returns ErrCancelled when
// the session was switched off before reaching a terminal state.
func (p *Poller) Wait(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	s := p.cur
	p.mu.Unlock()
	if s == nil {
		return Outcome{}, ErrNoSession
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, ErrCancelled
	}
	return *s.outcome, nil
}

func (p *Poller) beginLocked(prev *session) {
	p.seq++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		seq:       p.seq,
		jobID:     p.jobID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		state:     StatePolling,
	}
	var prevDone <-chan struct{}
	if prev != nil {
		prevDone = prev.done
	}
	p.cur = s
	p.log.Debug("poll session started",
		zap.String("job_id", s.jobID),
		zap.String("session_id", s.id),
		zap.Uint64("seq", s.seq),
	)
	go p.run(s, prevDone)
}

func (p *Poller) stopLocked() {
	s := p.cur
	if s == nil || s.state != StatePolling {
		return
	}
	s.state = StateIdle
	s.finishedAt = time.Now()
	s.cancel()
	p.log.Debug("poll session cancelled",
		zap.String("job_id", s.jobID),
		zap.String("session_id", s.id),
		zap.Int("fetches", s.fetches),
	)
}

// activeLocked reports whether responses for s may still be applied.
func (p *Poller) activeLocked(s *session) bool {
	return p.cur == s && s.state == StatePolling
}

func (p *Poller) finishLocked(s *session, state State, kind OutcomeKind, err error) *Outcome {
	s.state = state
	s.finishedAt = time.Now()
	s.cancel()
	s.outcome = &Outcome{
		Kind:      kind,
		SessionID: s.id,
		JobID:     s.jobID,
		Job:       s.latest.Clone(),
		Err:       err,
		Fetches:   s.fetches,
		StartedAt: s.startedAt,
		Elapsed:   s.elapsed(),
	}
	out := *s.outcome
	return &out
}
