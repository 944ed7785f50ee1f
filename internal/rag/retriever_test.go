package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEmbedder returns per-text vectors, falling back to a default.
type scriptedEmbedder struct {
	vectors      map[string][]float32
	defaultVec   []float32
	err          error
	embedCalls   int
	queriedTexts []string
}

func (s *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.embedCalls++
	s.queriedTexts = append(s.queriedTexts, text)
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.defaultVec, nil
}

func (s *scriptedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(context.Background(), text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type stubSearcher struct {
	results []RetrievedChunk
	mode    SearchMode
	err     error
	calls   int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, _ string, _ []uint, _ int) ([]RetrievedChunk, SearchMode, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return s.results, s.mode, nil
}

func newTestRetriever(client EmbeddingClient, persistent PersistentSearcher, opts RetrieverOptions) *Retriever {
	gateway := newTestGateway(client, GatewayOptions{Dimension: 3}, nil)
	return NewRetriever(NewPlanner(nil), gateway, persistent, NewMetrics(), opts)
}

func TestRetrieveEmptyStoreFailsFast(t *testing.T) {
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, nil, RetrieverOptions{})

	_, err := r.Retrieve(context.Background(), NewMemoryStore(3), "apa isi dokumen")
	assert.ErrorIs(t, err, ErrNoDocuments)
	assert.Zero(t, client.embedCalls, "no embedding call before the store check")
}

func TestRetrieveReturnsRankedResults(t *testing.T) {
	store := storeWithEntries(t)
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, nil, RetrieverOptions{PerVariantK: 2, TargetResults: 2})

	results, err := r.Retrieve(context.Background(), store, "sumbu")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "sumbu x", results[0].Content)
	assert.Equal(t, ModeMemoryVector, results[0].Mode)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestRetrieveStopsAtTargetResults(t *testing.T) {
	store := storeWithEntries(t)
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, nil, RetrieverOptions{PerVariantK: 7, TargetResults: 4})

	_, err := r.Retrieve(context.Background(), store, "persamaan gelombang")
	require.NoError(t, err)

	// The first variant already yields 4 unique chunks; later variants are
	// never embedded.
	assert.Equal(t, 1, client.embedCalls)
}

func TestRetrieveDeduplicatesByPrefixFingerprint(t *testing.T) {
	store := NewMemoryStore(3)
	require.NoError(t, store.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "abcdefghij ONE", Embedding: vec3(1, 0, 0)},
		{DocumentID: 1, ChunkIndex: 1, Content: "abcdefghij TWO", Embedding: vec3(0.9, 0.1, 0)},
		{DocumentID: 1, ChunkIndex: 2, Content: "different entirely", Embedding: vec3(0.8, 0.2, 0)},
	}))
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, nil, RetrieverOptions{
		PerVariantK:       3,
		TargetResults:     3,
		FingerprintLength: 10,
	})

	results, err := r.Retrieve(context.Background(), store, "apa saja isinya")
	require.NoError(t, err)

	prefixes := make(map[string]int)
	for _, res := range results {
		prefixes[string([]rune(res.Content)[:10])]++
	}
	assert.Equal(t, 1, prefixes["abcdefghij"], "same-prefix chunks collapse to one result")
}

func TestRetrieveSupplementsFromPersistentTier(t *testing.T) {
	store := NewMemoryStore(3)
	require.NoError(t, store.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "satu-satunya di memori", Embedding: vec3(1, 0, 0)},
	}))
	persistent := &stubSearcher{
		mode: ModePersistentVector,
		results: []RetrievedChunk{
			{Entry: Entry{DocumentID: 1, ChunkIndex: 5, Content: "dari tier persisten"}, Score: 0.4},
		},
	}
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, persistent, RetrieverOptions{
		PerVariantK:   3,
		TargetResults: 5,
		MinResults:    3,
	})

	results, err := r.Retrieve(context.Background(), store, "materi kuliah")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 1, persistent.calls)
	assert.Equal(t, "satu-satunya di memori", results[0].Content)
	assert.Equal(t, ModePersistentVector, results[1].Mode)
	assert.False(t, results[1].Mode.Degraded())
}

func TestRetrieveKeywordSupplementIsDegraded(t *testing.T) {
	store := NewMemoryStore(3)
	require.NoError(t, store.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "konten memori", Embedding: vec3(1, 0, 0)},
	}))
	persistent := &stubSearcher{
		mode: ModeKeyword,
		results: []RetrievedChunk{
			{Entry: Entry{DocumentID: 1, ChunkIndex: 9, Content: "hasil pencarian kata kunci"}},
		},
	}
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, persistent, RetrieverOptions{MinResults: 3})

	results, err := r.Retrieve(context.Background(), store, "materi kuliah")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Mode.Degraded())
}

func TestRetrieveAllEmbeddingsFailWithoutPersistent(t *testing.T) {
	store := storeWithEntries(t)
	client := &scriptedEmbedder{err: errors.New("provider down")}
	r := newTestRetriever(client, nil, RetrieverOptions{})

	_, err := r.Retrieve(context.Background(), store, "pertanyaan apa pun")
	assert.ErrorIs(t, err, ErrNoRelevantContent)
}

func TestRetrieveSupplementFailureWithNoMemoryResults(t *testing.T) {
	store := storeWithEntries(t)
	client := &scriptedEmbedder{err: errors.New("provider down")}
	persistent := &stubSearcher{err: errors.New("db down")}
	r := newTestRetriever(client, persistent, RetrieverOptions{})

	_, err := r.Retrieve(context.Background(), store, "pertanyaan apa pun")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRelevantContent)
}

func TestRetrieveSupplementFailureKeepsMemoryResults(t *testing.T) {
	store := NewMemoryStore(3)
	require.NoError(t, store.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "konten memori", Embedding: vec3(1, 0, 0)},
	}))
	persistent := &stubSearcher{err: errors.New("db down")}
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, persistent, RetrieverOptions{MinResults: 3})

	results, err := r.Retrieve(context.Background(), store, "materi kuliah")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "konten memori", results[0].Content)
}

func TestRetrieveIsRepeatableOnUnchangedStore(t *testing.T) {
	store := storeWithEntries(t)
	client := &scriptedEmbedder{defaultVec: vec3(1, 0, 0)}
	r := newTestRetriever(client, nil, RetrieverOptions{PerVariantK: 3, TargetResults: 3})

	first, err := r.Retrieve(context.Background(), store, "sumbu koordinat")
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), store, "sumbu koordinat")
	require.NoError(t, err)

	// Same query on an unchanged store returns the same set, same order,
	// same scores.
	assert.Equal(t, first, second)
}

func TestSearchModeDegraded(t *testing.T) {
	assert.False(t, ModeMemoryVector.Degraded())
	assert.False(t, ModeMemoryMMR.Degraded())
	assert.False(t, ModePersistentVector.Degraded())
	assert.True(t, ModeKeyword.Degraded())
}
