package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
)

// Static errors for client construction.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("runninghub: base URL is required")
	// ErrAPIKeyNotSet is returned when the RUNNINGHUB_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("runninghub: RUNNINGHUB_API_KEY environment variable is not set")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("runninghub: job ID is required")
)

var workflowURLRe = regexp.MustCompile(`/workflow/(\d+)`)
var digitsRe = regexp.MustCompile(`\d+`)

// Client is the HTTP client for the RunningHub workflow queue.
type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	pollInterval     time.Duration
	uploadTimeout    time.Duration
	instanceType     string
	webhookURL       string
	usePersonalQueue bool
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets the delay between successive status polls.
// Intervals below one second are clamped to one second.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d < time.Second {
			d = time.Second
		}
		c.pollInterval = d
	}
}

// WithUploadTimeout sets the per-request timeout for file uploads.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.uploadTimeout = d
	}
}

// WithInstanceType requests a specific backend instance type at job creation.
func WithInstanceType(t string) Option {
	return func(c *Client) {
		c.instanceType = t
	}
}

// WithWebhookURL registers a completion webhook at job creation.
func WithWebhookURL(u string) Option {
	return func(c *Client) {
		c.webhookURL = u
	}
}

// WithPersonalQueue routes jobs through the account's personal queue.
func WithPersonalQueue(enabled bool) Option {
	return func(c *Client) {
		c.usePersonalQueue = enabled
	}
}

// NewClient creates a new RunningHub client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable RUNNINGHUB_API_KEY.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 120 * time.Second},
		pollInterval:  5 * time.Second,
		uploadTimeout: 120 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("RUNNINGHUB_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// ResolveWorkflowRef normalizes a workflow reference to its numeric ID.
// Accepted forms: a raw numeric ID, a URL containing /workflow/<digits>,
// or any string with embedded digit runs (the last run wins).
func ResolveWorkflowRef(ref string) (string, error) {
	raw := strings.TrimSpace(ref)
	if raw == "" {
		return "", apperr.New(CodeConfigError, "workflow reference is not configured")
	}

	if isDigits(raw) {
		return raw, nil
	}

	if m := workflowURLRe.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}

	// For embedded digit runs, prefer the longest (workflow IDs are long);
	// the last run wins a length tie.
	if runs := digitsRe.FindAllString(raw, -1); len(runs) > 0 {
		best := runs[0]
		for _, run := range runs[1:] {
			if len(run) >= len(best) {
				best = run
			}
		}
		return best, nil
	}

	return "", apperr.Newf(CodeConfigError, "cannot resolve workflow reference: %s", ref)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Upload sends a multipart file to the backend input store and returns the
// stored file name to reference from node overrides.
func (c *Client) Upload(ctx context.Context, fileBytes []byte, filename, fileType string) (string, error) {
	if filename == "" {
		filename = "input.bin"
	}
	if fileType == "" {
		fileType = "input"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("apiKey", c.apiKey); err != nil {
		return "", fmt.Errorf("runninghub: build upload form: %w", err)
	}
	if err := mw.WriteField("fileType", fileType); err != nil {
		return "", fmt.Errorf("runninghub: build upload form: %w", err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", guessContentType(filename))
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("runninghub: build upload form: %w", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return "", fmt.Errorf("runninghub: build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("runninghub: build upload form: %w", err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, c.baseURL+"/task/openapi/upload", &body)
	if err != nil {
		return "", fmt.Errorf("runninghub: create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(CodeUploadFailed, "upload request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(CodeUploadFailed, "read upload response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(CodeUploadFailed, "upload failed: HTTP %d, body=%s", resp.StatusCode, truncate(respBody, 300))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", apperr.Wrap(CodeUploadFailed, "upload returned non-JSON body", err)
	}
	if env.Code != 0 {
		return "", apperr.Newf(CodeUploadFailed, "upload failed: code=%d, msg=%s", env.Code, env.Msg)
	}

	var data uploadData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.FileName == "" {
		return "", apperr.Newf(CodeUploadFailed, "upload response missing fileName: %s", truncate(respBody, 400))
	}
	return data.FileName, nil
}

// CreateJob resolves the workflow reference and submits a job with the given
// node overrides. It returns the backend job ID.
func (c *Client) CreateJob(ctx context.Context, workflowRef string, nodes []NodeInfo) (CreatedJob, error) {
	workflowID, err := ResolveWorkflowRef(workflowRef)
	if err != nil {
		return CreatedJob{}, err
	}

	payload := map[string]any{
		"apiKey":       c.apiKey,
		"workflowId":   workflowID,
		"nodeInfoList": nodes,
	}
	if c.instanceType != "" {
		payload["instanceType"] = c.instanceType
	}
	if c.webhookURL != "" {
		payload["webhookUrl"] = c.webhookURL
	}
	if c.usePersonalQueue {
		payload["usePersonalQueue"] = true
	}

	env, raw, err := c.postJSON(ctx, "/task/openapi/create", payload)
	if err != nil {
		return CreatedJob{}, err
	}
	if env.Code != 0 {
		return CreatedJob{}, apperr.Newf(CodeTaskCreateFailed, "create job failed: code=%d, msg=%s, body=%s", env.Code, env.Msg, truncate(raw, 500))
	}

	var data createData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return CreatedJob{}, apperr.Newf(CodeTaskCreateFailed, "create job succeeded but data is malformed: %s", truncate(raw, 500))
	}
	jobID := data.TaskID.String()
	if jobID == "" {
		return CreatedJob{}, apperr.Newf(CodeTaskCreateFailed, "create job succeeded but no taskId: %s", truncate(raw, 500))
	}

	// promptTips embeds a node validation report as a JSON string. A parse
	// failure keeps the raw tips; only a non-empty node_errors map is fatal.
	if data.PromptTips != "" {
		var tips promptTips
		if err := json.Unmarshal([]byte(data.PromptTips), &tips); err == nil && len(tips.NodeErrors) > 0 {
			return CreatedJob{}, apperr.Newf(CodePromptInvalid, "workflow node validation failed: jobId=%s, node_errors=%s", jobID, data.PromptTips)
		}
	}

	return CreatedJob{JobID: jobID, TaskStatus: data.TaskStatus}, nil
}

// PollOutputs performs a single status query for jobID.
// It returns (outputs, false, nil) on success, (nil, true, nil) while the job
// is still running, and a coded error for failure or protocol violations.
func (c *Client) PollOutputs(ctx context.Context, jobID string) ([]OutputFile, bool, error) {
	if jobID == "" {
		return nil, false, ErrJobIDRequired
	}

	payload := map[string]any{"apiKey": c.apiKey, "taskId": jobID}
	env, raw, err := c.postJSON(ctx, "/task/openapi/outputs", payload)
	if err != nil {
		return nil, false, err
	}

	switch {
	case env.Code == 0:
		var outputs []OutputFile
		if err := json.Unmarshal(env.Data, &outputs); err != nil {
			return nil, false, apperr.Newf(CodeTaskStatusError, "job succeeded but data is not an output list: jobId=%s, body=%s", jobID, truncate(raw, 500))
		}
		return outputs, false, nil

	case runningCodes[env.Code]:
		return nil, true, nil

	case env.Code == failedCode:
		var data failedData
		if err := json.Unmarshal(env.Data, &data); err == nil && data.FailedReason != nil {
			return nil, false, apperr.Newf(CodeTaskFailed, "job failed: jobId=%s, node=%s, message=%s",
				jobID, data.FailedReason.NodeName, data.FailedReason.ExceptionMessage)
		}
		return nil, false, apperr.Newf(CodeTaskFailed, "job failed: jobId=%s, body=%s", jobID, truncate(raw, 500))

	default:
		return nil, false, apperr.Newf(CodeTaskStatusError, "unknown job status: jobId=%s, code=%d, msg=%s", jobID, env.Code, env.Msg)
	}
}

// WaitForOutputs polls the job until it reaches a terminal state.
// timeoutSec <= 0 means no deadline. The deadline is checked up front on each
// iteration, so a backend that keeps reporting "running" cannot stretch the
// wait past timeout by more than one poll interval.
func (c *Client) WaitForOutputs(ctx context.Context, jobID string, timeoutSec int) ([]OutputFile, error) {
	var deadline time.Time
	if timeoutSec > 0 {
		deadline = time.Now().Add(time.Duration(timeoutSec) * time.Second)
	}

	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, apperr.Newf(CodeTaskTimeout, "job timed out (%ds): jobId=%s", timeoutSec, jobID)
		}

		outputs, running, err := c.PollOutputs(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !running {
			return outputs, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("runninghub: wait cancelled: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// Download fetches a job artifact by URL.
func (c *Client) Download(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	dlCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("runninghub: create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(CodeDownloadFailed, "download request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(CodeDownloadFailed, "download failed: HTTP %d, url=%s", resp.StatusCode, fileURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(CodeDownloadFailed, "read download body", err)
	}
	return data, nil
}

// postJSON posts a JSON payload and decodes the response envelope.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (envelope, []byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("runninghub: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return envelope{}, nil, fmt.Errorf("runninghub: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, nil, apperr.Wrap(CodeHTTPError, "request failed: "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, nil, apperr.Wrap(CodeHTTPError, "read response: "+path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return envelope{}, nil, apperr.Newf(CodeHTTPError, "HTTP %d, path=%s, body=%s", resp.StatusCode, path, truncate(respBody, 300))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return envelope{}, nil, apperr.Newf(CodeHTTPError, "non-JSON response, path=%s", path)
	}
	return env, respBody, nil
}

// truncate bounds response bodies embedded into error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// guessContentType returns the MIME type for a filename, defaulting to
// application/octet-stream.
func guessContentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
