package poller

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
)

// Config configures a Poller. Callbacks run on the session goroutine, one at
// a time, and must not call SetJob, SetEnabled or Close on the same Poller.
type Config struct {
	// Interval is the fixed delay between the end of one status fetch and
	// the start of the next.
	Interval time.Duration
	// Timeout is the wall-clock budget of a session, measured from its start.
	Timeout time.Duration

	// Disabled starts the poller with polling gated off.
	Disabled bool

	OnUpdate   func(job *domain.Job)
	OnTimeout  func(jobID string)
	OnTerminal func(out Outcome)

	Logger *zap.Logger
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.Errorf("poller: interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return errors.Errorf("poller: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
