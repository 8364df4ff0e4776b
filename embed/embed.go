// Package embed provides a client for OpenAI-compatible embedding endpoints.
// Vectors are L2-normalized on receipt so that inner product equals cosine
// similarity downstream.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/c360studio/paperforge/llm"
)

// maxResponseSize limits the embedding response body.
const maxResponseSize = 32 * 1024 * 1024 // 32MB

// Config holds embedding client configuration.
type Config struct {
	// URL is the base URL of an OpenAI-compatible API.
	URL string

	// Model is the embedding model identifier.
	Model string

	// Dimensions is the expected vector dimension (0 = accept any).
	Dimensions int
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	config      Config
	httpClient  *http.Client
	retryConfig llm.RetryConfig
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg llm.RetryConfig) Option {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates an embedding client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		config:      cfg,
		retryConfig: llm.DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// embeddingRequest is the OpenAI-compatible request format.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the OpenAI-compatible response format.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed returns one normalized vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		vectors, err := c.doRequest(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		lastErr = err
		if llm.IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.backoff(attempt)
			c.logger.Debug("Embedding request failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (c *Client) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingRequest{
		Model: c.config.Model,
		Input: texts,
	})
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := buildURL(c.config.URL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("parse embedding response: %w", err))
	}

	if len(resp.Data) != len(texts) {
		return nil, llm.NewTransientError(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	// Responses may arrive out of order; index is authoritative.
	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, llm.NewTransientError(fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if c.config.Dimensions > 0 && len(d.Embedding) != c.config.Dimensions {
			return nil, llm.NewFatalError(fmt.Errorf("expected %d dimensions, got %d", c.config.Dimensions, len(d.Embedding)))
		}
		vectors[d.Index] = Normalize(d.Embedding)
	}

	for i, v := range vectors {
		if v == nil {
			return nil, llm.NewTransientError(fmt.Errorf("missing embedding for input %d", i))
		}
	}

	return vectors, nil
}

func buildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/embeddings") {
		return baseURL
	}

	return baseURL + "/embeddings"
}

func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("embedding API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return llm.NewTransientError(err)
	default:
		return llm.NewFatalError(err)
	}
}

// Normalize returns the L2-normalized copy of v.
// A zero vector is returned unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Dot returns the inner product of two vectors.
// For normalized vectors this is the cosine similarity.
func Dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
