package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
)

type session struct {
	id     string
	seq    uint64
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by Poller.mu.
	startedAt  time.Time
	finishedAt time.Time
	state      State
	latest     *domain.Job
	fetches    int
	failures   int
	lastErr    error
	outcome    *Outcome
}

func (s *session) elapsed() time.Duration {
	if s.finishedAt.IsZero() {
		return time.Since(s.startedAt)
	}
	return s.finishedAt.Sub(s.startedAt)
}

type fetchResult struct {
	job *domain.Job
	err error
}

// run drives one session. Fetches are strictly sequential: the next one is
// scheduled only after the previous one resolved.
func (p *Poller) run(s *session, prevDone <-chan struct{}) {
	defer close(s.done)
	defer s.cancel()

	deadline := time.NewTimer(p.cfg.Timeout)
	defer deadline.Stop()

	// A cancelled predecessor may still be draining its last fetch for the
	// same job.
	if prevDone != nil {
		select {
		case <-prevDone:
		case <-deadline.C:
			p.expire(s)
			return
		case <-s.ctx.Done():
			return
		}
	}

	for {
		// The interval timer may win the select against a cancellation.
		if s.ctx.Err() != nil {
			return
		}
		fctx, fcancel := context.WithCancel(s.ctx)
		res := make(chan fetchResult, 1)
		go func() {
			if err := fctx.Err(); err != nil {
				res <- fetchResult{err: err}
				return
			}
			job, err := p.fetcher.GetJob(fctx, s.jobID)
			res <- fetchResult{job: job, err: err}
		}()

		select {
		case r := <-res:
			fcancel()
			if p.deliver(s, r) {
				return
			}
		case <-deadline.C:
			fcancel()
			p.expire(s)
			<-res
			return
		case <-s.ctx.Done():
			fcancel()
			<-res
			return
		}

		wait := time.NewTimer(p.cfg.Interval)
		select {
		case <-wait.C:
		case <-deadline.C:
			wait.Stop()
			p.expire(s)
			return
		case <-s.ctx.Done():
			wait.Stop()
			return
		}
	}
}

// deliver applies one fetch result and reports whether the session is over.
func (p *Poller) deliver(s *session, r fetchResult) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if !p.activeLocked(s) {
		p.mu.Unlock()
		return true
	}
	s.fetches++
	err := r.err
	if err == nil {
		err = checkResponse(s, r.job)
	}
	if err != nil {
		s.failures++
		s.lastErr = err
		fetches, failures := s.fetches, s.failures
		p.mu.Unlock()
		p.log.Warn("job status fetch failed",
			zap.String("job_id", s.jobID),
			zap.String("session_id", s.id),
			zap.Int("fetch", fetches),
			zap.Int("failures", failures),
			zap.Error(err),
		)
		return false
	}

	s.latest = r.job.Clone()
	s.lastErr = nil
	var out *Outcome
	switch r.job.Status {
	case domain.Done:
		out = p.finishLocked(s, StateSucceeded, Succeeded, nil)
	case domain.Failed:
		fe := &JobFailedError{JobID: s.jobID}
		if r.job.Error != nil {
			fe.Code = r.job.Error.Code
			fe.Message = r.job.Error.Message
		}
		out = p.finishLocked(s, StateFailed, Failed, fe)
	}
	p.mu.Unlock()

	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(r.job.Clone())
	}
	if out == nil {
		return false
	}
	p.log.Info("job reached terminal status",
		zap.String("job_id", s.jobID),
		zap.String("session_id", s.id),
		zap.String("outcome", string(out.Kind)),
		zap.Int("fetches", out.Fetches),
		zap.Duration("elapsed", out.Elapsed),
	)
	if p.cfg.OnTerminal != nil {
		p.cfg.OnTerminal(*out)
	}
	return true
}

func (p *Poller) expire(s *session) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if !p.activeLocked(s) {
		p.mu.Unlock()
		return
	}
	err := ErrTimedOut
	if s.lastErr != nil {
		err = fmt.Errorf("%w (last fetch error: %v)", ErrTimedOut, s.lastErr)
	}
	out := p.finishLocked(s, StateTimedOut, TimedOut, err)
	p.mu.Unlock()

	p.log.Warn("job poll timed out",
		zap.String("job_id", s.jobID),
		zap.String("session_id", s.id),
		zap.Duration("budget", p.cfg.Timeout),
		zap.Int("fetches", out.Fetches),
	)
	if p.cfg.OnTimeout != nil {
		p.cfg.OnTimeout(s.jobID)
	}
	if p.cfg.OnTerminal != nil {
		p.cfg.OnTerminal(*out)
	}
}

// checkResponse rejects responses that cannot be applied to s. They count
// as transient fetch errors.
func checkResponse(s *session, job *domain.Job) error {
	if job == nil {
		return errors.New("empty status response")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID != s.jobID {
		return errors.Errorf("status response for job %s, want %s", job.ID, s.jobID)
	}
	if s.latest != nil && !s.latest.Status.CanAdvanceTo(job.Status) {
		return errors.Errorf("status regressed from %s to %s", s.latest.Status, job.Status)
	}
	return nil
}
