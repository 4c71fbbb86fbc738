package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

const (
	defaultBaseURL          = "https://api.openai.com/v1"
	defaultTimeout          = 60 * time.Second
	defaultMaxResponseBytes = 4 * 1024 * 1024
	maxErrorBody            = 512
)

// APIError represents a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// openAIClient is the JSON transport shared by the classifier and analyzer.
// It never retries; callers decide whether a run is worth repeating.
type openAIClient struct {
	baseURL          string
	apiKey           string
	client           *http.Client
	maxResponseBytes int64
}

func newOpenAIClient(opts Options) *openAIClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	return &openAIClient{
		baseURL:          baseURL,
		apiKey:           opts.APIKey,
		maxResponseBytes: maxBytes,
		client:           &http.Client{Timeout: timeout},
	}
}

// postJSON sends in to path and decodes the response into out.
//
// Transport failures and non-2xx statuses wrap ErrProviderUnavailable. A 2xx
// body that is oversized or not valid JSON for out wraps
// ErrMalformedProviderResponse.
func (c *openAIClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: call %s: %w", model.ErrProviderUnavailable, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", model.ErrProviderUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: %w", model.ErrProviderUnavailable, path, newAPIError(resp.StatusCode, respBody))
	}

	if int64(len(respBody)) > c.maxResponseBytes {
		return fmt.Errorf("%w: %s response exceeded limit (%d bytes)", model.ErrMalformedProviderResponse, path, c.maxResponseBytes)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", model.ErrMalformedProviderResponse, path, err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	if len(apiErr.Body) > maxErrorBody {
		apiErr.Body = apiErr.Body[:maxErrorBody]
	}
	var parsed openAIErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
	}
	return apiErr
}
