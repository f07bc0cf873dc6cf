package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Token budget defaults, conservative for cost management. The input budget
// is an estimate (~4 chars per token) and only warns; the provider enforces
// the real limit.
const (
	DefaultMaxInputTokens  = 1000
	DefaultMaxOutputTokens = 500
)

// Operation timeouts and retry policy.
const (
	completeTimeout = 10 * time.Second
	streamTimeout   = 30 * time.Second
	toolTimeout     = 15 * time.Second
	maxRetries      = 2
	toolMaxTokens   = 4000
)

// Config holds provider connection settings.
type Config struct {
	Endpoint        string
	APIKey          string
	Model           string
	MaxInputTokens  int
	MaxOutputTokens int
}

// Client talks to one OpenAI-compatible provider. All methods are safe for
// concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *Limiter
	log     zerolog.Logger
}

// NewClient builds a client for the configured provider. The API key must be
// present; the caller decides how a missing key degrades the service.
func NewClient(cfg Config, limiter *Limiter, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key required")
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = DefaultMaxInputTokens
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	log.Info().Str("model", cfg.Model).Msg("llm client initialized")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: limiter,
		log:     log,
	}, nil
}

// Complete generates a full response with chat history and retry logic.
// Only rate limits and timeouts are retried.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, chatHistory []Message) (string, error) {
	return c.completeWithTemperature(ctx, systemPrompt, userPrompt, chatHistory, 0.7)
}

func (c *Client) completeWithTemperature(ctx context.Context, systemPrompt, userPrompt string, chatHistory []Message, temperature float64) (string, error) {
	c.warnOnTokenBudget(systemPrompt, userPrompt)

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    buildMessages(systemPrompt, userPrompt, chatHistory),
		MaxTokens:   c.cfg.MaxOutputTokens,
		Temperature: temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.doChat(ctx, req, completeTimeout)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("llm: no choices in response")
			}
			c.log.Info().
				Int("prompt_tokens", resp.Usage.PromptTokens).
				Int("completion_tokens", resp.Usage.CompletionTokens).
				Int("total_tokens", resp.Usage.TotalTokens).
				Msg("completion successful")
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrTimeout) {
			return "", err
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient completion failure")
	}
	return "", fmt.Errorf("llm: all retries exhausted: %w", lastErr)
}

// ValidateScope asks the provider whether a query is in scope, at
// temperature zero for determinism. Any failure fails open: scope validation
// is advisory, the Socratic system prompt is the second gate.
func (c *Client) ValidateScope(ctx context.Context, userQuery, validatorSystem, validatorUser string) bool {
	reply, err := c.completeWithTemperature(ctx, validatorSystem, validatorUser, nil, 0.0)
	if err != nil {
		c.log.Error().Err(err).Msg("scope validation failed, allowing query")
		return true
	}
	result := strings.ToUpper(strings.TrimSpace(reply))
	c.log.Debug().Str("result", result).Str("query", userQuery).Msg("scope validated")
	return strings.Contains(result, "IN_SCOPE")
}

// StreamComplete generates a streaming response, invoking onDelta for each
// non-empty content chunk in arrival order. Malformed chunks are skipped.
func (c *Client) StreamComplete(ctx context.Context, systemPrompt, userPrompt string, chatHistory []Message, onDelta func(string)) error {
	c.warnOnTokenBudget(systemPrompt, userPrompt)

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    buildMessages(systemPrompt, userPrompt, chatHistory),
		MaxTokens:   c.cfg.MaxOutputTokens,
		Temperature: 0.7,
		Stream:      true,
	}

	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	httpResp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return c.statusError(httpResp)
	}

	reader := bufio.NewReader(httpResp.Body)
	for {
		select {
		case <-ctx.Done():
			return classifyErr(ctx.Err())
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return classifyErr(fmt.Errorf("read stream: %w", err))
		}

		lineStr := strings.TrimSpace(string(line))
		if lineStr == "" {
			continue
		}
		if !strings.HasPrefix(lineStr, "data: ") {
			continue
		}
		data := strings.TrimPrefix(lineStr, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
			return nil
		}
	}
}

// CompleteWithTools forces a tool-calling completion and returns the first
// call. The higher output budget accommodates structured generation.
func (c *Client) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []Tool) (FunctionCall, error) {
	c.warnOnTokenBudget(systemPrompt, userPrompt)

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    buildMessages(systemPrompt, userPrompt, nil),
		MaxTokens:   toolMaxTokens,
		Temperature: 0.7,
		Tools:       tools,
		ToolChoice:  "required",
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.doChat(ctx, req, toolTimeout)
		if err == nil {
			if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
				return FunctionCall{}, ErrNoToolCall
			}
			call := resp.Choices[0].Message.ToolCalls[0]
			c.log.Info().
				Str("function", call.Function.Name).
				Int("total_tokens", resp.Usage.TotalTokens).
				Msg("tool call successful")
			return FunctionCall{Name: call.Function.Name, Arguments: call.Function.Arguments}, nil
		}

		lastErr = err
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrTimeout) {
			return FunctionCall{}, err
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient tool-call failure")
	}
	return FunctionCall{}, fmt.Errorf("llm: all retries exhausted: %w", lastErr)
}

// doChat performs one non-streaming request within the given timeout.
func (c *Client) doChat(ctx context.Context, req chatRequest, timeout time.Duration) (*chatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpResp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.statusError(httpResp)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if c.limiter != nil {
		c.limiter.RecordUsage(int64(resp.Usage.TotalTokens))
	}
	return &resp, nil
}

func (c *Client) send(ctx context.Context, req chatRequest) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.limiter.Release()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyErr(err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) error {
	bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, string(bodyBytes))
	}
	return fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(bodyBytes))
}

func (c *Client) warnOnTokenBudget(systemPrompt, userPrompt string) {
	estimated := (len(systemPrompt) + len(userPrompt)) / 4
	if estimated > c.cfg.MaxInputTokens {
		c.log.Warn().
			Int("estimated_tokens", estimated).
			Int("limit", c.cfg.MaxInputTokens).
			Msg("input may exceed token budget")
	}
}

func buildMessages(systemPrompt, userPrompt string, chatHistory []Message) []Message {
	messages := make([]Message, 0, len(chatHistory)+2)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, chatHistory...)
	messages = append(messages, Message{Role: "user", Content: userPrompt})
	return messages
}

// classifyErr maps transport failures onto the sentinel kinds.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
