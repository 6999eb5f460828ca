package reconcile

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to a logger.
type LogNotifier struct{ Log *zap.Logger }

func (l LogNotifier) Notify(_ context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("corp_id", n.CorpID),
		zap.String("job_id", n.JobID),
		zap.String("message", n.Message),
	}
	if n.Code != "" {
		fields = append(fields, zap.String("code", n.Code))
	}
	if n.Kind == JobSucceeded {
		l.Log.Info(n.Title, fields...)
		return
	}
	l.Log.Warn(n.Title, fields...)
}
