package rag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec3(x, y, z float32) []float32 { return []float32{x, y, z} }

func storeWithEntries(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(3)
	err := s.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "sumbu x", Source: "Doc A", Embedding: vec3(1, 0, 0)},
		{DocumentID: 1, ChunkIndex: 1, Content: "sumbu y", Source: "Doc A", Embedding: vec3(0, 1, 0)},
		{DocumentID: 2, ChunkIndex: 0, Content: "sumbu z", Source: "Doc B", Embedding: vec3(0, 0, 1)},
		{DocumentID: 2, ChunkIndex: 1, Content: "diagonal", Source: "Doc B", Embedding: vec3(1, 1, 0)},
	})
	require.NoError(t, err)
	return s
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := NewMemoryStore(3)

	err := s.Upsert([]Entry{{DocumentID: 1, Embedding: []float32{1, 0}}})
	assert.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := storeWithEntries(t)

	hits := s.Search(vec3(1, 0, 0), 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "sumbu x", hits[0].Content)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
	assert.Equal(t, "diagonal", hits[1].Content)
}

func TestSearchKLargerThanStore(t *testing.T) {
	s := storeWithEntries(t)

	hits := s.Search(vec3(0, 1, 0), 50)
	assert.Len(t, hits, 4)
}

func TestSearchMMRPrefersDiversity(t *testing.T) {
	s := NewMemoryStore(3)
	require.NoError(t, s.Upsert([]Entry{
		{DocumentID: 1, ChunkIndex: 0, Content: "a", Embedding: vec3(1, 0, 0)},
		{DocumentID: 1, ChunkIndex: 1, Content: "a-dup", Embedding: vec3(0.99, 0.01, 0)},
		{DocumentID: 1, ChunkIndex: 2, Content: "b", Embedding: vec3(0, 1, 0)},
	}))

	hits := s.SearchMMR(vec3(1, 0, 0), 2, 0.3)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Content)
	// The near-duplicate is penalized; the orthogonal entry wins second place.
	assert.Equal(t, "b", hits[1].Content)
}

func TestRemoveDocument(t *testing.T) {
	s := storeWithEntries(t)

	s.RemoveDocument(1)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []uint{2}, s.ActiveDocumentIDs())
	assert.Equal(t, []string{"Doc B"}, s.DocumentTitles())

	for _, hit := range s.Search(vec3(1, 0, 0), 10) {
		assert.NotEqual(t, uint(1), hit.DocumentID)
	}
}

func TestClear(t *testing.T) {
	s := storeWithEntries(t)

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.ActiveDocumentIDs())
	assert.Empty(t, s.DocumentTitles())
}

func TestActiveDocumentIDsSorted(t *testing.T) {
	s := NewMemoryStore(3)
	require.NoError(t, s.Upsert([]Entry{
		{DocumentID: 9, Embedding: vec3(1, 0, 0)},
		{DocumentID: 2, Embedding: vec3(0, 1, 0)},
		{DocumentID: 5, Embedding: vec3(0, 0, 1)},
	}))

	assert.Equal(t, []uint{2, 5, 9}, s.ActiveDocumentIDs())
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, float64(CosineSimilarity(vec3(1, 2, 3), vec3(2, 4, 6))), 1e-6)
	assert.InDelta(t, 0.0, float64(CosineSimilarity(vec3(1, 0, 0), vec3(0, 1, 0))), 1e-6)
	assert.InDelta(t, -1.0, float64(CosineSimilarity(vec3(1, 0, 0), vec3(-1, 0, 0))), 1e-6)

	assert.Zero(t, CosineSimilarity(nil, vec3(1, 0, 0)))
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, vec3(1, 0, 0)))
	assert.Zero(t, CosineSimilarity(vec3(0, 0, 0), vec3(1, 0, 0)))
}

// Concurrent readers and writers must not race; run with -race.
func TestStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(3)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Upsert([]Entry{{
					DocumentID: uint(w + 1),
					ChunkIndex: i,
					Content:    fmt.Sprintf("w%d-%d", w, i),
					Embedding:  vec3(float32(w), float32(i), 1),
				}})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Search(vec3(1, 1, 1), 3)
				s.Len()
				s.DocumentTitles()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, s.Len())
}
