// Package ark generates the model still frame through a Seedream-style
// images/generations endpoint.
package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

var (
	ErrBaseURLRequired = errors.New("ark: base URL is required")
	ErrModelRequired   = errors.New("ark: model is required")
	ErrNoImageURL      = errors.New("ark: response contained no image URL")
)

// referenceHint is prepended to the prompt whenever reference images are
// supplied, pinning the generated person to the reference appearance.
const referenceHint = "【重要】必须严格保持与参考图片中人物完全一致：" +
	"保持完全相同的性别、年龄段、脸型、五官比例、面部特征、发型发色、肤色与服装细节。" +
	"请基于参考图片中的真实人物生成，不要改变任何外貌和服装特征。"

// platformAspectRatios maps a delivery platform to the still frame's aspect
// ratio. Platforms outside this map get no aspect_ratio field.
var platformAspectRatios = map[string]string{
	"tiktok":    "9:16",
	"instagram": "1:1",
}

// AspectRatioFor returns the aspect ratio used for a platform, if any.
func AspectRatioFor(platform string) (string, bool) {
	ratio, ok := platformAspectRatios[strings.ToLower(platform)]
	return ratio, ok
}

// Client calls the image generation API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	watermark  bool
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSize sets the requested output size, e.g. "2K".
func WithSize(size string) Option {
	return func(c *Client) { c.size = size }
}

// WithWatermark toggles the provider watermark.
func WithWatermark(enabled bool) Option {
	return func(c *Client) { c.watermark = enabled }
}

// NewClient creates an image generation client.
func NewClient(baseURL, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrBaseURLRequired
	}
	if strings.TrimSpace(model) == "" {
		return nil, ErrModelRequired
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		size:       "2K",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ResponseFormat string `json:"response_format"`
	Size           string `json:"size"`
	Stream         bool   `json:"stream"`
	Watermark      bool   `json:"watermark"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	// Image is a single URL string or a list of URL strings; the provider
	// accepts both forms natively.
	Image any `json:"image,omitempty"`
}

type generationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage renders the still frame and returns its URL. Non-empty
// reference image URLs are passed through to the provider and the prompt is
// prefixed with the appearance-pinning hint. The platform selects the aspect
// ratio; unmapped platforms fall back to the provider default.
func (c *Client) GenerateImage(ctx context.Context, prompt string, referenceImages []string, platform string) (string, error) {
	refs := make([]string, 0, len(referenceImages))
	for _, u := range referenceImages {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}

	fullPrompt := prompt
	if len(refs) > 0 {
		fullPrompt = referenceHint + "\n\n" + prompt
	}

	reqBody := generationRequest{
		Model:          c.model,
		Prompt:         fullPrompt,
		ResponseFormat: "url",
		Size:           c.size,
		Watermark:      c.watermark,
	}
	if ratio, ok := AspectRatioFor(platform); ok {
		reqBody.AspectRatio = ratio
	}
	switch len(refs) {
	case 0:
	case 1:
		reqBody.Image = refs[0]
	default:
		reqBody.Image = refs
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending generation request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image generation returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed generationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding generation response: %w", err)
	}
	for _, item := range parsed.Data {
		if url := strings.TrimSpace(item.URL); strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			return url, nil
		}
	}
	return "", ErrNoImageURL
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
