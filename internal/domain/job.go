package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	Queued  Status = "QUEUED"
	Running Status = "RUNNING"
	Done    Status = "DONE"
	Failed  Status = "FAILED"
)

var statusRank = map[Status]int{
	Queued:  0,
	Running: 1,
	Done:    2,
	Failed:  2,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether the job will not change status again.
func (s Status) IsTerminal() bool { return s == Done || s == Failed }

// CanAdvanceTo reports whether next is reachable from s on the forward path
// QUEUED -> RUNNING -> DONE|FAILED. Repeating the current status is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.IsTerminal() {
		return next == s
	}
	return statusRank[next] >= statusRank[s]
}

type JobType string

const (
	ProfileRefresh JobType = "profile_refresh"
	Analyze        JobType = "analyze"
)

func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case ProfileRefresh, Analyze:
		return JobType(s), nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

type Progress struct {
	Step    Step `json:"step,omitempty"`
	Percent int  `json:"percent"`
}

type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *JobError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	case e.Message != "":
		return e.Message
	default:
		return e.Code
	}
}

// Job is the backend's view of one asynchronous task. The client only ever
// reads it.
type Job struct {
	ID         string     `json:"job_id"`
	Type       JobType    `json:"job_type,omitempty"`
	CorpID     string     `json:"corp_id,omitempty"`
	Status     Status     `json:"status"`
	Progress   Progress   `json:"progress"`
	Error      *JobError  `json:"error"`
	QueuedAt   *time.Time `json:"queued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Validate checks the fields a poller relies on.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job: empty job_id")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if j.Progress.Percent < 0 || j.Progress.Percent > 100 {
		return fmt.Errorf("job %s: percent %d out of range", j.ID, j.Progress.Percent)
	}
	return nil
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
