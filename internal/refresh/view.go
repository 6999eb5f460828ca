package refresh

import (
	"github.com/SirClappington/corpsignal/internal/domain"
	"github.com/SirClappington/corpsignal/internal/reconcile"
)

// View is what the dashboard renders for one corporation: a progress bar,
// the current pipeline step and, once the job ended, a toast.
type View struct {
	CorpID       string                  `json:"corp_id"`
	JobID        string                  `json:"job_id"`
	JobType      domain.JobType          `json:"job_type"`
	State        string                  `json:"state"`
	Status       domain.Status           `json:"status,omitempty"`
	Percent      int                     `json:"percent"`
	Step         domain.Step             `json:"step,omitempty"`
	StepLabel    string                  `json:"step_label,omitempty"`
	StepIndex    int                     `json:"step_index,omitempty"`
	StepCount    int                     `json:"step_count"`
	ElapsedMS    int64                   `json:"elapsed_ms"`
	Fetches      int                     `json:"fetches"`
	LastError    string                  `json:"last_error,omitempty"`
	Notification *reconcile.Notification `json:"notification,omitempty"`
}

func (m *Manager) viewOf(t *tracked) View {
	snap := t.poller.Snapshot()
	v := View{
		CorpID:    t.corpID,
		JobID:     snap.JobID,
		JobType:   t.jobType,
		State:     snap.State.String(),
		StepCount: len(domain.Pipeline),
		ElapsedMS: snap.Elapsed.Milliseconds(),
		Fetches:   snap.Fetches,
	}
	if j := snap.Job; j != nil {
		v.Status = j.Status
		v.Percent = j.Progress.Percent
		v.Step = j.Progress.Step
		v.StepLabel = j.Progress.Step.Label()
		v.StepIndex = j.Progress.Step.Index()
	}
	if snap.LastErr != nil {
		v.LastError = snap.LastErr.Error()
	}

	m.mu.Lock()
	if t.notification != nil {
		n := *t.notification
		v.Notification = &n
	}
	m.mu.Unlock()
	return v
}
