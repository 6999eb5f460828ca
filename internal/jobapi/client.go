// Package jobapi talks to the analysis backend's job and profile
// endpoints. It is the calling layer for the poller: authentication and
// request timeouts live here.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
)

var (
	// ErrTriggerRejected is returned when the backend accepted the trigger
	// request but did not queue a job.
	ErrTriggerRejected = errors.New("jobapi: trigger not queued")
	ErrEmptyJobID      = errors.New("jobapi: empty job id")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jobapi: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type TriggerResult struct {
	JobID   string        `json:"job_id"`
	Status  domain.Status `json:"status"`
	Message string        `json:"message"`
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
}

// New builds a client for baseURL, e.g. "https://intel.example.com/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: 10 * time.Second,
		http:    http.DefaultClient,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Trigger starts a job of the given type for corpID. Only a QUEUED answer
// with a job id counts as success.
func (c *Client) Trigger(ctx context.Context, jobType domain.JobType, corpID string) (*TriggerResult, error) {
	path := "/jobs/" + url.PathEscape(string(jobType)) + "/run"
	body, err := json.Marshal(map[string]string{"corp_id": corpID})
	if err != nil {
		return nil, errors.Wrap(err, "jobapi: encode trigger")
	}

	var res TriggerResult
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	if res.JobID == "" {
		return nil, errors.Wrapf(ErrEmptyJobID, "trigger %s for %s", jobType, corpID)
	}
	if res.Status != domain.Queued {
		return &res, errors.Wrapf(ErrTriggerRejected, "job %s is %s: %s", res.JobID, res.Status, res.Message)
	}
	c.log.Debug("job triggered",
		zap.String("job_id", res.JobID),
		zap.String("job_type", string(jobType)),
		zap.String("corp_id", corpID),
	)
	return &res, nil
}

// GetJob fetches the current status of jobID. A body that does not describe
// a valid job is an error.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	var j domain.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	if err := j.Validate(); err != nil {
		return nil, errors.Wrap(err, "jobapi: invalid job payload")
	}
	return &j, nil
}

// GetProfile fetches the corporate profile of corpID as the backend renders
// it. The body is passed through undecoded.
func (c *Client) GetProfile(ctx context.Context, corpID string) (json.RawMessage, error) {
	if corpID == "" {
		return nil, errors.New("jobapi: empty corporation id")
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/corporations/"+url.PathEscape(corpID)+"/profile", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return errors.Wrapf(err, "jobapi: build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "jobapi: %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "jobapi: read %s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "jobapi: decode %s %s", method, path)
	}
	return nil
}
