package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RemoteEngine talks to the browser-automation sidecar over HTTP.
// The sidecar drives the actual UI; a slow or wedged generation shows
// up here as a poll timeout, which classifies as transient.
type RemoteEngine struct {
	cfg        Config
	httpClient *http.Client
}

// NewRemoteEngine creates a client for one sidecar session.
func NewRemoteEngine(cfg Config) *RemoteEngine {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 60 * time.Second
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = 240 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &RemoteEngine{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Start waits until the sidecar reports healthy.
func (e *RemoteEngine) Start(ctx context.Context) error {
	err := WaitFor(ctx, e.cfg.StartTimeout, time.Second, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url("/healthz"), nil)
		if err != nil {
			return false, err
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return false, nil // not up yet
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
	if err != nil {
		return &Failure{Phase: "session", Detail: "sidecar not healthy", Err: err}
	}
	return nil
}

// Stop releases idle connections. The sidecar owns its own lifecycle.
func (e *RemoteEngine) Stop() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// Recover asks the sidecar to reset its UI session. Bounded, no retry
// of the document itself.
func (e *RemoteEngine) Recover(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url("/session/reset"), nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &Failure{Phase: "session", Detail: "reset request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return e.failureFromResponse("session", resp)
	}
	return nil
}

// Process uploads the file with its prompt, then polls until the
// generation finishes. Upload hiccups are retried once in place; the
// generation wait is bounded by GenerationTimeout.
func (e *RemoteEngine) Process(ctx context.Context, path, promptID string) (*Result, error) {
	var jobID string
	err := RetryCall(ctx, 1, 2*time.Second, func(ctx context.Context) error {
		id, err := e.upload(ctx, path, promptID)
		if err != nil {
			var f *Failure
			// Retry in place only on connection-level upload errors.
			if errors.As(err, &f) && f.Status == 0 && f.Phase == "upload" {
				return retry.RetryableError(err)
			}
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	err = WaitFor(ctx, e.cfg.GenerationTimeout, e.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		r, done, err := e.poll(ctx, jobID)
		if err != nil {
			return false, err
		}
		if done {
			result = r
		}
		return done, nil
	})
	if err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			return nil, &Failure{Phase: "extract", Detail: "generation did not complete in time", Err: context.DeadlineExceeded}
		}
		return nil, err
	}
	return result, nil
}

func (e *RemoteEngine) upload(ctx context.Context, path, promptID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err // fs.ErrNotExist classifies as permanent
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	if err := mw.WriteField("prompt", promptID); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url("/ocr"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", &Failure{Phase: "upload", Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", e.failureFromResponse("upload", resp)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Failure{Phase: "upload", Detail: "malformed sidecar response", Err: err}
	}
	if out.JobID == "" {
		return "", &Failure{Phase: "upload", Detail: "sidecar returned no job id"}
	}
	return out.JobID, nil
}

func (e *RemoteEngine) poll(ctx context.Context, jobID string) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url("/ocr/"+jobID), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, false, &Failure{Phase: "extract", Detail: "poll request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, e.failureFromResponse("extract", resp)
	}

	var out struct {
		Status string         `json:"status"` // pending, generating, done, failed
		Text   string         `json:"text"`
		Data   map[string]any `json:"data"`
		Error  string         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, &Failure{Phase: "extract", Detail: "malformed poll response", Err: err}
	}

	switch out.Status {
	case "done":
		return &Result{Text: out.Text, Data: out.Data}, true, nil
	case "failed":
		return nil, false, &Failure{Phase: "extract", Detail: out.Error}
	default:
		return nil, false, nil
	}
}

func (e *RemoteEngine) failureFromResponse(phase string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(b))
	if detail == "" {
		detail = resp.Status
	}
	return &Failure{Phase: phase, Status: resp.StatusCode, Detail: detail}
}

func (e *RemoteEngine) url(p string) string {
	return strings.TrimRight(e.cfg.Endpoint, "/") + p
}
