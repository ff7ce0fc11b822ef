// Package apify is a client for the Apify actor platform: start an actor
// run, wait for it, and read the items it wrote to its dataset.
package apify

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

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.apify.com/v2"

// Run statuses reported by the platform.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Client defines the Apify API operations.
type Client interface {
	StartRun(ctx context.Context, actorID string, input any) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	DatasetItems(ctx context.Context, datasetID string) ([]map[string]any, error)
	// RunSync runs an actor to completion in one request and returns its
	// dataset items. Suited to short actors such as single-profile lookups.
	RunSync(ctx context.Context, actorID string, input any) ([]map[string]any, error)
}

// Run is an actor run.
type Run struct {
	ID               string     `json:"id"`
	ActorID          string     `json:"actId"`
	Status           string     `json:"status"`
	StatusMessage    string     `json:"statusMessage,omitempty"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the run has stopped.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

type runEnvelope struct {
	Data Run `json:"data"`
}

// APIError is returned when Apify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new Apify client authenticated with token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			// Synchronous runs may hold the connection for minutes.
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("apify", "request")
	}
	return c
}

// actorPath encodes an actor reference. "user/actor" names use "~" in URLs.
func actorPath(actorID string) string {
	return url.PathEscape(strings.ReplaceAll(actorID, "/", "~"))
}

func (c *httpClient) StartRun(ctx context.Context, actorID string, input any) (*Run, error) {
	var env runEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/acts/"+actorPath(actorID)+"/runs", input, &env); err != nil {
		return nil, eris.Wrapf(err, "apify: start run %s", actorID)
	}
	return &env.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var env runEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/actor-runs/"+url.PathEscape(runID), nil, &env); err != nil {
		return nil, eris.Wrapf(err, "apify: get run %s", runID)
	}
	return &env.Data, nil
}

func (c *httpClient) DatasetItems(ctx context.Context, datasetID string) ([]map[string]any, error) {
	var items []map[string]any
	path := "/datasets/" + url.PathEscape(datasetID) + "/items?clean=true&format=json"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, eris.Wrapf(err, "apify: dataset items %s", datasetID)
	}
	return items, nil
}

func (c *httpClient) RunSync(ctx context.Context, actorID string, input any) ([]map[string]any, error) {
	var items []map[string]any
	path := "/acts/" + actorPath(actorID) + "/run-sync-get-dataset-items?clean=true&format=json"
	if err := c.doJSON(ctx, http.MethodPost, path, input, &items); err != nil {
		return nil, eris.Wrapf(err, "apify: run sync %s", actorID)
	}
	return items, nil
}

// doJSON sends one request, retrying transient failures, and decodes the
// response body into out.
func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return eris.Wrap(err, "marshal request")
		}
	}

	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.once(ctx, method, path, payload)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func (c *httpClient) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit wait")
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.ForStatus(&APIError{StatusCode: resp.StatusCode, Body: string(data)}, resp.StatusCode)
	}
	return data, nil
}
