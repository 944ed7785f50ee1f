package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tune a single chat completion call.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// HTTPError is a non-2xx provider response; the status code drives the
// retriable/non-retriable decision in RetryPolicy.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Config holds the OpenAI-compatible endpoint settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
}

// Client talks to an OpenAI-compatible API for both chat completions and
// embeddings. All network calls go through the shared retry policy.
type Client struct {
	cfg        Config
	retry      RetryPolicy
	httpClient *http.Client
}

func NewClient(cfg Config, retry RetryPolicy) *Client {
	return &Client{
		cfg:        cfg,
		retry:      retry,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// Complete performs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	if opts.Temperature > 0 {
		reqBody["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		reqBody["max_tokens"] = opts.MaxTokens
	}

	var answer string
	err := c.retry.Do(ctx, func() error {
		raw, err := c.post(ctx, "/chat/completions", reqBody)
		if err != nil {
			return err
		}
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("parse llm json failed: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("empty llm choices")
		}
		answer = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return answer, nil
}

// StreamComplete performs a streaming chat completion, invoking onChunk for
// every delta and returning the concatenated answer. Streaming calls are not
// retried mid-stream; only the initial request goes through the retry policy.
func (c *Client) StreamComplete(
	ctx context.Context,
	messages []ChatMessage,
	opts CompletionOptions,
	onChunk func(chunk string) error,
) (string, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
		"stream":   true,
	}
	if opts.Temperature > 0 {
		reqBody["temperature"] = opts.Temperature
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm stream request failed: %w", err)
	}

	var resp *http.Response
	err = c.retry.Do(ctx, func() error {
		req, reqErr := c.newRequest(ctx, "/chat/completions", bodyBytes)
		if reqErr != nil {
			return reqErr
		}
		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("llm stream request failed: %w", doErr)
		}
		if r.StatusCode >= 300 {
			raw, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			return &HTTPError{StatusCode: r.StatusCode, Body: string(raw)}
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan llm stream failed: %w", err)
	}
	return full.String(), nil
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return req, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := c.newRequest(ctx, path, bodyBytes)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
