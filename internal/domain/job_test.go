package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Queued, Queued, true},
		{Queued, Running, true},
		{Queued, Done, true},
		{Queued, Failed, true},
		{Running, Running, true},
		{Running, Done, true},
		{Running, Failed, true},
		{Running, Queued, false},
		{Done, Done, true},
		{Done, Running, false},
		{Done, Failed, false},
		{Failed, Done, false},
		{Failed, Failed, true},
		{Running, Status("PAUSED"), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.from.CanAdvanceTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, Queued.IsTerminal())
	assert.False(t, Running.IsTerminal())
	assert.True(t, Done.IsTerminal())
	assert.True(t, Failed.IsTerminal())
}

func TestJob_DecodeStatusPayload(t *testing.T) {
	raw := `{
		"job_id": "j3",
		"job_type": "analyze",
		"corp_id": "c-100",
		"status": "FAILED",
		"progress": {"step": "SIGNAL", "percent": 60},
		"error": {"code": "X", "message": "boom"},
		"queued_at": "2026-10-19T09:00:00Z",
		"started_at": "2026-10-19T09:00:02Z",
		"finished_at": null
	}`

	var j Job
	require.NoError(t, json.Unmarshal([]byte(raw), &j))
	require.NoError(t, j.Validate())

	assert.Equal(t, Failed, j.Status)
	assert.Equal(t, StepSignal, j.Progress.Step)
	assert.Equal(t, 60, j.Progress.Percent)
	require.NotNil(t, j.Error)
	assert.Equal(t, "boom (X)", j.Error.Error())
	require.NotNil(t, j.StartedAt)
	assert.Nil(t, j.FinishedAt)
}

func TestJob_Validate(t *testing.T) {
	assert.Error(t, (&Job{Status: Queued}).Validate())
	assert.Error(t, (&Job{ID: "j", Status: "queued"}).Validate())
	assert.Error(t, (&Job{ID: "j", Status: Running, Progress: Progress{Percent: 101}}).Validate())
	assert.NoError(t, (&Job{ID: "j", Status: Running, Progress: Progress{Percent: 35}}).Validate())
}

func TestJob_Clone(t *testing.T) {
	j := &Job{ID: "j", Status: Failed, Error: &JobError{Code: "X"}}
	c := j.Clone()
	c.Error.Code = "Y"
	assert.Equal(t, "X", j.Error.Code)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestStep_IndexAndLabel(t *testing.T) {
	assert.Equal(t, 1, StepSnapshot.Index())
	assert.Equal(t, 9, StepInsight.Index())
	assert.Equal(t, len(Pipeline), StepInsight.Index())
	assert.Equal(t, 0, Step("UNKNOWN").Index())
	assert.Equal(t, "Detecting signals", StepSignal.Label())
	assert.Equal(t, "warm up", Step("WARM_UP").Label())
	assert.Equal(t, "", Step("").Label())
}

func TestParseJobType(t *testing.T) {
	jt, err := ParseJobType("profile_refresh")
	require.NoError(t, err)
	assert.Equal(t, ProfileRefresh, jt)

	_, err = ParseJobType("reindex")
	assert.Error(t, err)
}
