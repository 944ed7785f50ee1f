package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Embed returns the embedding vector for a single text. Transient provider
// failures are retried per the shared policy; other errors propagate.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	vectors, err := c.embedRequest(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings for multiple texts in one provider call.
// The caller (the embedding gateway) owns batching strategy and degradation;
// this method only reports what the provider answered.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			// Provider rejects empty strings; keep positional alignment.
			s = " "
		}
		trimmed[i] = s
	}

	vectors, err := c.embedRequest(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

func (c *Client) embedRequest(ctx context.Context, input interface{}) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": input,
	}

	var vectors [][]float32
	err := c.retry.Do(ctx, func() error {
		raw, err := c.post(ctx, "/embeddings", reqBody)
		if err != nil {
			return err
		}
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("parse embedding json failed: %w", err)
		}
		vectors = make([][]float32, len(parsed.Data))
		for i := range parsed.Data {
			vectors[i] = parsed.Data[i].Embedding
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	return vectors, nil
}
