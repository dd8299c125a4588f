// Package aiservice talks to the inbox AI backend over HTTP.
package aiservice

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL      string
	APIKey       string
	TextTimeout  time.Duration
	AudioTimeout time.Duration
	RateLimitRPS float64
	Observer     CallObserver
}

// CallObserver receives the outcome of every backend call, streaming
// ones included.
type CallObserver interface {
	ObserveAICall(operation string, duration time.Duration, err error)
}

type Client struct {
	baseURL     string
	apiKey      string
	textClient  *http.Client
	audioClient *http.Client
	limiter     *rate.Limiter
	executor    *resilience.Executor
	observer    CallObserver
}

var _ ports.AIService = (*Client)(nil)

func New(opts Options, executor *resilience.Executor) *Client {
	if opts.TextTimeout <= 0 {
		opts.TextTimeout = 120 * time.Second
	}
	if opts.AudioTimeout <= 0 {
		opts.AudioTimeout = 10 * time.Minute
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		textClient:  &http.Client{Timeout: opts.TextTimeout},
		audioClient: &http.Client{Timeout: opts.AudioTimeout},
		limiter:     limiter,
		executor:    executor,
		observer:    opts.Observer,
	}
}

func (c *Client) Classify(ctx context.Context, content string, labels []string) (string, error) {
	request := map[string]any{
		"content": content,
		"labels":  labels,
	}
	var response struct {
		Label string `json:"label"`
	}
	if err := c.call(ctx, "classify", "/api/classify", request, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Label), nil
}

func (c *Client) Format(ctx context.Context, content, instruction string) (string, error) {
	request := map[string]any{
		"content":     content,
		"instruction": instruction,
	}
	var response struct {
		Content string `json:"content"`
	}
	if err := c.call(ctx, "format", "/api/format", request, &response); err != nil {
		return "", err
	}
	return response.Content, nil
}

func (c *Client) FormatStream(ctx context.Context, content, instruction string, handler ports.StreamHandler) (string, error) {
	request := map[string]any{
		"content":     content,
		"instruction": instruction,
	}
	return c.stream(ctx, "format-stream", "/api/format/stream", c.textClient, request, handler)
}

func (c *Client) SuggestTags(ctx context.Context, content, fileName string, existing []string) ([]domain.TagSuggestion, error) {
	request := map[string]any{
		"content":       content,
		"file_name":     fileName,
		"existing_tags": existing,
	}
	var response struct {
		Suggestions []domain.TagSuggestion `json:"suggestions"`
	}
	if err := c.call(ctx, "tags", "/api/tags", request, &response); err != nil {
		return nil, err
	}
	return response.Suggestions, nil
}

func (c *Client) SuggestTitle(ctx context.Context, content, fileName, instruction string) ([]domain.TitleSuggestion, error) {
	request := map[string]any{
		"content":     content,
		"file_name":   fileName,
		"instruction": instruction,
	}
	var response struct {
		Suggestions []domain.TitleSuggestion `json:"suggestions"`
	}
	if err := c.call(ctx, "title", "/api/title", request, &response); err != nil {
		return nil, err
	}
	return response.Suggestions, nil
}

func (c *Client) SuggestFolders(ctx context.Context, content, fileName string, allowed []string) ([]domain.FolderSuggestion, error) {
	request := map[string]any{
		"content":         content,
		"file_name":       fileName,
		"allowed_folders": allowed,
	}
	var response struct {
		Suggestions []domain.FolderSuggestion `json:"suggestions"`
	}
	if err := c.call(ctx, "folders", "/api/folders", request, &response); err != nil {
		return nil, err
	}
	return response.Suggestions, nil
}

func (c *Client) ExtractImageText(ctx context.Context, image []byte) (string, error) {
	request := map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	}
	var response struct {
		Text string `json:"text"`
	}
	if err := c.call(ctx, "vision", "/api/vision", request, &response); err != nil {
		return "", err
	}
	return response.Text, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, format string, handler ports.StreamHandler) (string, error) {
	request := map[string]any{
		"audio":  base64.StdEncoding.EncodeToString(audio),
		"format": format,
	}
	return c.stream(ctx, "transcribe", "/api/transcribe", c.audioClient, request, handler)
}

// call runs a non-streaming request through the rate limiter and the
// retry/breaker executor. Transient failures come back wrapped as
// temporary so the pipeline can requeue the file.
func (c *Client) call(ctx context.Context, operation, path string, request, response any) error {
	start := time.Now()
	err := c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		return c.postJSON(ctx, c.textClient, operation, path, request, response)
	}, classifyAIError)
	c.observe(operation, start, err)
	return wrapTemporaryIfNeeded(operation, err)
}

// stream runs a streaming request outside the retry loop: the handler
// may have applied partial snapshots, so restarting mid-stream is the
// caller's decision, not ours.
func (c *Client) stream(ctx context.Context, operation, path string, httpClient *http.Client, request any, handler ports.StreamHandler) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	final, err := c.postStream(ctx, httpClient, operation, path, request, handler)
	c.observe(operation, start, err)
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return final, nil
}

func (c *Client) observe(operation string, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveAICall(operation, time.Since(start), err)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
