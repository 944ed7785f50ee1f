package app

import (
	"context"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/ai"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
)

// LLMAdapter bridges the OpenAI-compatible client to the generator and
// streaming contracts.
type LLMAdapter struct {
	client *ai.Client
}

func NewLLMAdapter(client *ai.Client) LLMAdapter {
	return LLMAdapter{client: client}
}

func (a LLMAdapter) Complete(ctx context.Context, system string, turns []rag.Turn, temperature float32) (string, error) {
	return a.client.Complete(ctx, chatMessages(system, turns), ai.CompletionOptions{Temperature: temperature})
}

func (a LLMAdapter) StreamComplete(ctx context.Context, system string, turns []rag.Turn, temperature float32, onChunk func(string) error) (string, error) {
	return a.client.StreamComplete(ctx, chatMessages(system, turns), ai.CompletionOptions{Temperature: temperature}, onChunk)
}

func chatMessages(system string, turns []rag.Turn) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(turns)+1)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: system})
	for _, t := range turns {
		messages = append(messages, ai.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return messages
}
