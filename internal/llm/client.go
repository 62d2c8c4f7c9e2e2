// Package llm sends reduced job-posting text to the Gemini generateContent
// endpoint and returns the raw response for decoding.
package llm

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
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultEndpoint      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel         = "gemini-2.0-flash"
	DefaultMaxInputChars = 4000
	DefaultTimeout       = 20 * time.Second

	maxResponseBytes = 4 << 20
)

var (
	// ErrMissingAPIKey is returned before any network activity when no credential is configured.
	ErrMissingAPIKey = errors.New("llm api key is not configured")
	// ErrCall covers transport failures and non-2xx responses.
	ErrCall = errors.New("llm call failed")
)

// Config controls the Gemini client.
type Config struct {
	APIKey        string
	Endpoint      string
	Model         string
	MaxInputChars int
	Timeout       time.Duration
}

// Response is the undecoded generateContent reply.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// CallError carries the provider response of a failed call. It wraps ErrCall.
type CallError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", ErrCall, e.StatusCode, truncateBytes(e.Body, 512))
	}
	return fmt.Sprintf("%s: %v", ErrCall, e.Err)
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCall}
	}
	return []error{ErrCall, e.Err}
}

// Client is a minimal Gemini REST client built on net/http.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// Generate issues exactly one generateContent call for text. The response
// body is returned as-is on 2xx; anything else is a *CallError.
func (c *Client) Generate(ctx context.Context, text string) (Response, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Response{}, ErrMissingAPIKey
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: BuildPrompt(Truncate(text, c.cfg.MaxInputChars))}}}},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &CallError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &CallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("llm call finished",
		zap.String("model", c.cfg.Model),
		zap.Int("status", resp.StatusCode),
		zap.Int("response_bytes", len(respBody)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &CallError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return Response{StatusCode: resp.StatusCode, Body: json.RawMessage(respBody)}, nil
}

// Truncate shortens text to at most limit characters without splitting a rune.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}

// BuildPrompt wraps posting text in the extraction instructions.
func BuildPrompt(text string) string {
	return `Extract the company name, job title, and location from the job posting text below.

Respond with a single JSON object using exactly these keys:
{"company": "...", "jobTitle": "...", "location": "..."}

Rules:
- company is the hiring organization, not a job board or recruiting platform.
- jobTitle is the role as advertised, without department or requisition numbers.
- location is the city, region or country of the role; use "Remote" for fully remote roles.
- Use an empty string for any field that does not appear in the text.

Job posting text:
` + text
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
