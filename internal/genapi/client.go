// Package genapi is the client for the external image-generation service:
// submit a payload, poll the remote task until it resolves, download the
// result.
package genapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://api.dollforge-gen.com"

	submitAttempts  = 3
	submitDelay     = 5 * time.Second
	pollInterval    = 3 * time.Second
	downloadDelay   = 3 * time.Second
	requestTimeout  = 60 * time.Second
	downloadTimeout = 5 * time.Minute
)

// Remote task states reported by the status endpoint.
const (
	remoteStateSucceeded = "succeeded"
	remoteStateFailed    = "failed"
)

// ErrMissingTaskID is returned when a successful submit response carries no
// remote task identifier.
var ErrMissingTaskID = errors.New("submit response contains no task id")

// Client talks to the remote generation service. The zero value is not
// usable; construct it with NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// dlClient has no client-level timeout; downloads are bounded per
	// attempt by context instead, since result images can be large.
	dlClient *http.Client

	attempts      int
	submitDelay   time.Duration
	pollInterval  time.Duration
	downloadDelay time.Duration
}

// NewClient creates a generation client for the given base URL. An empty
// baseURL selects the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{Timeout: requestTimeout},
		dlClient:      &http.Client{},
		attempts:      submitAttempts,
		submitDelay:   submitDelay,
		pollInterval:  pollInterval,
		downloadDelay: downloadDelay,
	}
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

type statusResponse struct {
	Status     string `json:"status"`
	ResultURL  string `json:"resultUrl"`
	FailReason string `json:"failReason"`
}

// Submit posts the payload and returns the remote task identifier. Failed
// attempts are retried up to the attempt cap with a fixed delay. A 2xx
// response without a task id is itself a failure, not a transport error.
//
// Retrying a submission whose response was lost may create a duplicate
// remote task; the remote contract offers no idempotency key, so this is an
// accepted risk rather than an exactly-once guarantee.
func (c *Client) Submit(ctx context.Context, p Payload, apiKey string, logf func(format string, args ...any)) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		taskID, err := c.submitOnce(ctx, body, apiKey)
		if err == nil {
			return taskID, nil
		}
		lastErr = err

		logf("submit attempt %d/%d failed: %v", attempt, c.attempts, err)
		if attempt < c.attempts {
			select {
			case <-time.After(c.submitDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("submit generation task: %w", lastErr)
}

func (c *Client) submitOnce(ctx context.Context, body []byte, apiKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", httpError(resp)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sr.TaskID == "" {
		return "", ErrMissingTaskID
	}
	return sr.TaskID, nil
}

// Poll queries the remote task on a fixed interval until it resolves. There
// is no overall deadline: a slow remote task simply keeps its slot. 4xx
// responses from the status endpoint are fatal and stop polling; every
// other error is treated as a transient glitch and polling continues.
func (c *Client) Poll(ctx context.Context, remoteTaskID, apiKey string, logf func(format string, args ...any)) (string, error) {
	for {
		resultURL, done, err := c.pollOnce(ctx, remoteTaskID, apiKey)
		if done {
			return resultURL, err
		}
		if err != nil {
			logf("poll glitch for remote task %s: %v", remoteTaskID, err)
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// pollOnce returns done=true when polling must stop: remote success, remote
// failure, or a fatal client error.
func (c *Client) pollOnce(ctx context.Context, remoteTaskID, apiKey string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+url.PathEscape(remoteTaskID), nil)
	if err != nil {
		return "", true, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", true, ctx.Err()
		}
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", true, fmt.Errorf("remote task status: %w", httpError(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, httpError(resp)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", false, fmt.Errorf("decode status response: %w", err)
	}

	switch sr.Status {
	case remoteStateSucceeded:
		if sr.ResultURL == "" {
			return "", true, errors.New("remote task succeeded without a result url")
		}
		return sr.ResultURL, true, nil
	case remoteStateFailed:
		reason := sr.FailReason
		if reason == "" {
			reason = "remote task failed without a reason"
		}
		return "", true, errors.New(reason)
	default:
		return "", false, nil
	}
}

// Download fetches the result image into dir under a generated
// collision-resistant filename and returns the local path. A resolved
// remote success is never given up on: transient download failures are
// retried indefinitely with a fixed delay until the context is cancelled.
func (c *Client) Download(ctx context.Context, resultURL, dir string, logf func(format string, args ...any)) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}

	ext := path.Ext(strippedPath(resultURL))
	if ext == "" {
		ext = ".png"
	}
	dest := filepath.Join(dir, uuid.NewString()+ext)

	for attempt := 1; ; attempt++ {
		err := c.downloadOnce(ctx, resultURL, dest)
		if err == nil {
			return dest, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		logf("download attempt %d failed: %v", attempt, err)
		select {
		case <-time.After(c.downloadDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Client) downloadOnce(ctx context.Context, resultURL, dest string) error {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, resultURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.dlClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("write result file: %w", err)
	}
	return f.Close()
}

// strippedPath returns the path component of a URL, ignoring parse errors
// so extension sniffing degrades gracefully.
func strippedPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

// httpError summarizes a non-success HTTP response, including a short body
// excerpt since the remote puts its error detail there.
func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("remote returned %s", resp.Status)
	}
	return fmt.Errorf("remote returned %s: %s", resp.Status, msg)
}
