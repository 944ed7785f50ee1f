package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Response styles.
const (
	StylePrecise  = "precise"
	StyleCreative = "creative"
	StyleBalanced = "balanced"
)

// ErrEmptyContext means generation was attempted with no retrieved context.
// The retriever should have failed first; this is the generator's own guard
// so no LLM call ever happens on an empty store.
var ErrEmptyContext = errors.New("no document context available for generation")

// Turn is one prior conversation exchange fed back into the prompt.
type Turn struct {
	Role    string
	Content string
}

// LLMClient is the generation provider contract.
type LLMClient interface {
	Complete(ctx context.Context, system string, turns []Turn, temperature float32) (string, error)
}

// GenerateOptions control a single generation.
type GenerateOptions struct {
	Style        string // precise | creative | balanced
	ShowThinking bool
}

// GeneratedAnswer is the raw generation outcome before citation injection.
type GeneratedAnswer struct {
	Text     string
	Thinking string
	IsMath   bool
}

// GeneratorConfig holds the static knobs.
type GeneratorConfig struct {
	MaxHistoryTurns int
}

// Generator builds the system+context+query prompt and invokes the LLM,
// optionally extracting a visible thinking section from the answer.
type Generator struct {
	llm        LLMClient
	classifier Classifier
	extractor  ThinkingExtractor
	metrics    *Metrics
	cfg        GeneratorConfig
}

func NewGenerator(llm LLMClient, classifier Classifier, extractor ThinkingExtractor, metrics *Metrics, cfg GeneratorConfig) *Generator {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 10
	}
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if extractor == nil {
		extractor = NewThinkingExtractor()
	}
	return &Generator{
		llm:        llm,
		classifier: classifier,
		extractor:  extractor,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Generate answers the query from the assembled context. LLM failures are
// recorded in metrics and propagate with the underlying cause preserved.
func (g *Generator) Generate(ctx context.Context, query, contextText string, history []Turn, opts GenerateOptions) (*GeneratedAnswer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if strings.TrimSpace(contextText) == "" {
		return nil, ErrEmptyContext
	}

	isMath := g.classifier.IsMathQuery(query)
	system := g.systemInstruction(opts, isMath)
	turns := g.buildTurns(query, contextText, history)

	raw, err := g.llm.Complete(ctx, system, turns, styleTemperature(opts.Style))
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordLLMFailure()
		}
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	answer := &GeneratedAnswer{Text: strings.TrimSpace(raw), IsMath: isMath}
	if opts.ShowThinking {
		answer.Text, answer.Thinking = g.extractor.Extract(raw)
	}
	return answer, nil
}

// Prompt exposes the assembled system instruction, turns, and temperature so
// callers can drive a streaming completion themselves.
func (g *Generator) Prompt(query, contextText string, history []Turn, opts GenerateOptions) (string, []Turn, float32, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, 0, fmt.Errorf("query is empty")
	}
	if strings.TrimSpace(contextText) == "" {
		return "", nil, 0, ErrEmptyContext
	}
	isMath := g.classifier.IsMathQuery(query)
	system := g.systemInstruction(opts, isMath)
	turns := g.buildTurns(query, contextText, history)
	return system, turns, styleTemperature(opts.Style), nil
}

// ExtractThinking splits a raw answer into answer text and thinking section.
func (g *Generator) ExtractThinking(raw string) (string, string) {
	return g.extractor.Extract(raw)
}

// IsMathQuery reports whether the generator's classifier flags the query.
func (g *Generator) IsMathQuery(query string) bool {
	return g.classifier.IsMathQuery(query)
}

func (g *Generator) systemInstruction(opts GenerateOptions, isMath bool) string {
	var b strings.Builder
	b.WriteString("Kamu adalah asisten belajar yang menjawab pertanyaan berdasarkan dokumen pengguna. " +
		"Jawab hanya dari konteks yang diberikan dan sebutkan dokumen sumbernya. " +
		"Jika konteks tidak memuat jawabannya, katakan demikian; jangan mengarang fakta.")

	switch opts.Style {
	case StylePrecise:
		b.WriteString(" Jawab secara ringkas, faktual, dan langsung ke inti.")
	case StyleCreative:
		b.WriteString(" Jawab dengan penjelasan yang mengalir, gunakan analogi bila membantu pemahaman.")
	default:
		b.WriteString(" Jawab dengan jelas dan seimbang antara ringkas dan lengkap.")
	}

	if opts.ShowThinking {
		b.WriteString(" Awali jawabanmu dengan blok <thinking>...</thinking> berisi langkah penalaranmu, " +
			"lalu tulis jawaban akhir setelah blok tersebut.")
	}

	if isMath {
		b.WriteString(" Pertanyaan ini bersifat matematis: tulis persamaan dengan notasi display ($$...$$) " +
			"untuk rumus utama dan notasi inline ($...$) di dalam kalimat, dan jelaskan arti setiap simbol yang muncul.")
	}
	return b.String()
}

// buildTurns formats prior turns (user/assistant only, most recent first-N)
// followed by the context-plus-question as the final user turn.
func (g *Generator) buildTurns(query, contextText string, history []Turn) []Turn {
	filtered := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Role == "user" || t.Role == "assistant" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) > g.cfg.MaxHistoryTurns {
		filtered = filtered[len(filtered)-g.cfg.MaxHistoryTurns:]
	}

	turns := make([]Turn, 0, len(filtered)+1)
	turns = append(turns, filtered...)
	turns = append(turns, Turn{
		Role: "user",
		Content: fmt.Sprintf("Konteks dari dokumen:\n\n%s\n\nPertanyaan: %s",
			contextText, strings.TrimSpace(query)),
	})
	return turns
}

func styleTemperature(style string) float32 {
	switch style {
	case StylePrecise:
		return 0.2
	case StyleCreative:
		return 0.9
	default:
		return 0.5
	}
}
