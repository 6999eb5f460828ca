// Package reconcile turns a finished poll session into cache invalidation
// and a user notification.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SirClappington/corpsignal/internal/poller"
)

// Invalidator drops cached data derived from a corporation.
type Invalidator interface {
	Invalidate(ctx context.Context, corpID string) error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

type Kind string

// One kind per terminal outcome, so "it finished", "it broke" and "it is
// taking too long" never share a message.
const (
	JobSucceeded Kind = "job_succeeded"
	JobFailed    Kind = "job_failed"
	JobTimedOut  Kind = "job_timed_out"
)

type Notification struct {
	Kind    Kind   `json:"kind"`
	CorpID  string `json:"corp_id"`
	JobID   string `json:"job_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type Reconciler struct {
	inv    Invalidator
	notify Notifier
	log    *zap.Logger
	group  singleflight.Group
}

func New(inv Invalidator, notify Notifier, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if notify == nil {
		notify = NotifierFunc(func(context.Context, Notification) {})
	}
	return &Reconciler{inv: inv, notify: notify, log: log}
}

// Reconcile handles the outcome of a session started for corpID. Only a
// success invalidates caches. The returned notification has already been
// sent to the Notifier.
func (r *Reconciler) Reconcile(ctx context.Context, corpID string, out poller.Outcome) (Notification, error) {
	n := notificationFor(corpID, out)
	var err error
	if out.Kind == poller.Succeeded {
		err = r.invalidate(ctx, corpID)
	}
	r.notify.Notify(ctx, n)
	return n, err
}

// invalidate collapses overlapping calls for the same corporation into one.
func (r *Reconciler) invalidate(ctx context.Context, corpID string) error {
	if r.inv == nil {
		return nil
	}
	_, err, shared := r.group.Do(corpID, func() (any, error) {
		return nil, r.inv.Invalidate(ctx, corpID)
	})
	if err != nil {
		r.log.Error("cache invalidation failed", zap.String("corp_id", corpID), zap.Error(err))
		return errors.Wrapf(err, "reconcile: invalidate %s", corpID)
	}
	r.log.Debug("cache invalidated", zap.String("corp_id", corpID), zap.Bool("shared", shared))
	return nil
}

func notificationFor(corpID string, out poller.Outcome) Notification {
	n := Notification{CorpID: corpID, JobID: out.JobID}
	switch out.Kind {
	case poller.Succeeded:
		n.Kind = JobSucceeded
		n.Title = "Analysis complete"
		n.Message = "The latest analysis is ready."
	case poller.Failed:
		n.Kind = JobFailed
		n.Title = "Analysis failed"
		n.Message = "The analysis could not be completed."
		var fe *poller.JobFailedError
		if errors.As(out.Err, &fe) {
			n.Code = fe.Code
			if fe.Message != "" {
				n.Message = fe.Message
			}
		}
	case poller.TimedOut:
		n.Kind = JobTimedOut
		n.Title = "Analysis timed out"
		n.Message = fmt.Sprintf("Operation exceeded time budget after %s. Try again.", out.Elapsed.Round(time.Second))
	}
	return n
}
