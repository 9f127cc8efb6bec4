package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/log"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "ragcore/0.1"

	// maxErrorBody caps how much of an error response body is read.
	maxErrorBody = 64 * 1024

	// maxLineSize bounds a single SSE line from the backend.
	maxLineSize = 1024 * 1024
)

// OpenAIConfig configures the OpenAI-compatible backend client.
type OpenAIConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Client  *http.Client // optional; defaults to a 2 minute timeout client
	Logger  log.Logger   // optional
}

// OpenAI is a Client speaking the OpenAI chat completions wire protocol.
type OpenAI struct {
	chatURL string
	apiKey  string
	client  *http.Client
	logger  log.Logger
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI creates a backend client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &OpenAI{
		chatURL: baseURL + "/chat/completions",
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
	}, nil
}

// Wire payload shapes.

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	N           int       `json:"n"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type chunkChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type chunkResponse struct {
	Choices []chunkChoice `json:"choices"`
	Error   *apiError     `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// Complete performs a blocking chat completion.
func (c *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	httpResp, err := c.post(ctx, chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           1,
	})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response did not include choices", ErrBackend)
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		ID:           resp.ID,
		Model:        model,
		Message:      choice.Message,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}, nil
}

// Stream performs a streaming chat completion. fn is invoked once per
// non-empty delta in arrival order. The read loop checks ctx between
// deltas so caller disconnection stops the backend stream promptly.
func (c *OpenAI) Stream(ctx context.Context, req Request, fn DeltaFunc) error {
	httpResp, err := c.post(ctx, chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           1,
		Stream:      true,
	})
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return parseAPIError(httpResp)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}

		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // comments and blank keep-alive lines
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return nil
		}

		var chunk chunkResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		// The backend reports mid-stream failures as an error payload
		// in place of a chunk, then closes without [DONE].
		if chunk.Error != nil {
			return streamError(*chunk.Error)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := fn(ctx, content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// A canceled ctx surfaces here as a body read error.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrBackend, ctx.Err())
		}
		return fmt.Errorf("%w: reading stream: %v", ErrBackend, err)
	}

	// Stream ended without the [DONE] sentinel; treat as normal exhaustion.
	return nil
}

func (c *OpenAI) post(ctx context.Context, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrBackend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: construct request: %v", ErrBackend, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// streamError builds the backend failure for a mid-stream error payload,
// classified by the reported error type.
func streamError(apiErr apiError) error {
	message := apiErr.Message
	if message == "" {
		message = "stream reported an error"
	}
	if s := classifyErrorType(apiErr.Type); s != nil {
		return fmt.Errorf("%w: %w: %s", ErrBackend, s, message)
	}
	return fmt.Errorf("%w: %s", ErrBackend, message)
}

// parseAPIError reads a bounded amount of an error response and classifies
// it by status.
func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return statusError(resp.StatusCode, "failed to read error body")
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return statusError(resp.StatusCode, apiErr.Error.Message)
	}
	return statusError(resp.StatusCode, strings.TrimSpace(string(body)))
}
