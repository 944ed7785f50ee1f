package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response   string
	err        error
	calls      int
	lastSystem string
	lastTurns  []Turn
	lastTemp   float32
}

func (f *fakeLLM) Complete(_ context.Context, system string, turns []Turn, temperature float32) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastTurns = turns
	f.lastTemp = temperature
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestGenerator(llm LLMClient, metrics *Metrics) *Generator {
	return NewGenerator(llm, nil, nil, metrics, GeneratorConfig{MaxHistoryTurns: 4})
}

func TestGenerateEmptyContextNoLLMCall(t *testing.T) {
	llm := &fakeLLM{response: "jawaban"}
	g := newTestGenerator(llm, nil)

	_, err := g.Generate(context.Background(), "pertanyaan", "   ", nil, GenerateOptions{})
	assert.ErrorIs(t, err, ErrEmptyContext)
	assert.Zero(t, llm.calls)
}

func TestGenerateEmptyQuery(t *testing.T) {
	llm := &fakeLLM{}
	g := newTestGenerator(llm, nil)

	_, err := g.Generate(context.Background(), "  ", "konteks", nil, GenerateOptions{})
	assert.Error(t, err)
	assert.Zero(t, llm.calls)
}

func TestGenerateStyleTemperatures(t *testing.T) {
	tests := []struct {
		style string
		want  float32
	}{
		{StylePrecise, 0.2},
		{StyleCreative, 0.9},
		{StyleBalanced, 0.5},
		{"", 0.5},
		{"unknown", 0.5},
	}
	for _, tt := range tests {
		llm := &fakeLLM{response: "ok"}
		g := newTestGenerator(llm, nil)
		_, err := g.Generate(context.Background(), "tanya", "konteks", nil, GenerateOptions{Style: tt.style})
		require.NoError(t, err)
		assert.Equal(t, tt.want, llm.lastTemp, "style %q", tt.style)
	}
}

func TestGenerateFinalTurnCarriesContextAndQuestion(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := newTestGenerator(llm, nil)

	_, err := g.Generate(context.Background(), "apa itu inersia", "KONTEKS-BLOK", nil, GenerateOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, llm.lastTurns)

	last := llm.lastTurns[len(llm.lastTurns)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "Konteks dari dokumen:")
	assert.Contains(t, last.Content, "KONTEKS-BLOK")
	assert.Contains(t, last.Content, "Pertanyaan: apa itu inersia")
}

func TestGenerateHistoryFilteredAndCapped(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := newTestGenerator(llm, nil) // cap 4

	history := []Turn{
		{Role: "system", Content: "sistem lama"},
		{Role: "user", Content: "t1"},
		{Role: "assistant", Content: "j1"},
		{Role: "user", Content: "t2"},
		{Role: "assistant", Content: "j2"},
		{Role: "user", Content: "t3"},
		{Role: "assistant", Content: "j3"},
	}

	_, err := g.Generate(context.Background(), "tanya", "konteks", history, GenerateOptions{})
	require.NoError(t, err)

	// 4 most recent user/assistant turns plus the final context turn.
	require.Len(t, llm.lastTurns, 5)
	assert.Equal(t, "t2", llm.lastTurns[0].Content)
	for _, turn := range llm.lastTurns {
		assert.NotEqual(t, "system", turn.Role)
	}
}

func TestGenerateMathInstructionInjected(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := newTestGenerator(llm, nil)

	answer, err := g.Generate(context.Background(), "turunkan persamaan gelombang", "konteks", nil, GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, answer.IsMath)
	assert.Contains(t, llm.lastSystem, "$$")

	llm2 := &fakeLLM{response: "ok"}
	g2 := newTestGenerator(llm2, nil)
	answer2, err := g2.Generate(context.Background(), "siapa penulisnya", "konteks", nil, GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, answer2.IsMath)
	assert.NotContains(t, llm2.lastSystem, "$$")
}

func TestGenerateThinkingRequested(t *testing.T) {
	llm := &fakeLLM{response: "<thinking>langkah 1 dan 2</thinking>Jawaban akhir."}
	g := newTestGenerator(llm, nil)

	answer, err := g.Generate(context.Background(), "tanya", "konteks", nil, GenerateOptions{ShowThinking: true})
	require.NoError(t, err)

	assert.Contains(t, llm.lastSystem, "<thinking>")
	assert.Equal(t, "Jawaban akhir.", answer.Text)
	assert.Equal(t, "langkah 1 dan 2", answer.Thinking)
}

func TestGenerateThinkingNotExtractedWhenHidden(t *testing.T) {
	llm := &fakeLLM{response: "<thinking>rahasia</thinking>Jawaban."}
	g := newTestGenerator(llm, nil)

	answer, err := g.Generate(context.Background(), "tanya", "konteks", nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, answer.Thinking)
	assert.Contains(t, answer.Text, "<thinking>")
}

func TestGenerateLLMFailureRecorded(t *testing.T) {
	metrics := NewMetrics()
	llm := &fakeLLM{err: errors.New("upstream 500")}
	g := newTestGenerator(llm, metrics)

	_, err := g.Generate(context.Background(), "tanya", "konteks", nil, GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 500")
	assert.Equal(t, int64(1), metrics.Snapshot().LLMFailures)
}

func TestPromptMatchesGenerate(t *testing.T) {
	g := newTestGenerator(&fakeLLM{}, nil)

	system, turns, temp, err := g.Prompt("tanya", "konteks", nil, GenerateOptions{Style: StylePrecise})
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), temp)
	assert.NotEmpty(t, system)
	require.NotEmpty(t, turns)
	assert.Contains(t, turns[len(turns)-1].Content, "Pertanyaan: tanya")

	_, _, _, err = g.Prompt("tanya", "", nil, GenerateOptions{})
	assert.ErrorIs(t, err, ErrEmptyContext)
}

func TestThinkingExtractorTags(t *testing.T) {
	e := NewThinkingExtractor()

	final, thinking := e.Extract("awal <thinking>alasan\nbaris dua</thinking> akhir")
	assert.Equal(t, "awal  akhir", final)
	assert.Equal(t, "alasan\nbaris dua", thinking)
}

func TestThinkingExtractorHeadings(t *testing.T) {
	e := NewThinkingExtractor()

	answer := "Proses Berpikir:\nlangkah satu\nlangkah dua\nJawaban:\nHasil akhirnya 42."
	final, thinking := e.Extract(answer)
	assert.Equal(t, "Hasil akhirnya 42.", final)
	assert.Equal(t, "langkah satu\nlangkah dua", thinking)
}

func TestThinkingExtractorNumberedSteps(t *testing.T) {
	e := NewThinkingExtractor()

	answer := "1. Tulis persamaan awal\n2. Substitusi nilai batas\n\n" +
		"Dengan demikian solusinya adalah fungsi sinus yang memenuhi syarat batas " +
		"dan kondisi awal yang diberikan pada soal."
	final, thinking := e.Extract(answer)
	assert.True(t, strings.HasPrefix(final, "Dengan demikian"))
	assert.Contains(t, thinking, "1. Tulis persamaan awal")
	assert.Contains(t, thinking, "2. Substitusi nilai batas")
}

func TestThinkingExtractorPlainAnswerUntouched(t *testing.T) {
	e := NewThinkingExtractor()

	final, thinking := e.Extract("  Jawaban biasa tanpa struktur.  ")
	assert.Equal(t, "Jawaban biasa tanpa struktur.", final)
	assert.Empty(t, thinking)
}
