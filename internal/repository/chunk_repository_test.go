package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
)

func TestKeywordTerms(t *testing.T) {
	terms := keywordTerms("Apa itu Persamaan Gelombang?")
	assert.Equal(t, []string{"apa itu persamaan gelombang?", "persamaan", "gelombang"}, terms)
}

func TestKeywordTermsSingleWord(t *testing.T) {
	// A lone word equal to the whole query is not duplicated.
	assert.Equal(t, []string{"momentum"}, keywordTerms("Momentum"))
}

func TestKeywordTermsEmpty(t *testing.T) {
	assert.Nil(t, keywordTerms("   "))
}

func TestKeywordTermsDropsShortWords(t *testing.T) {
	terms := keywordTerms("apa isi bab tiga")
	assert.Equal(t, []string{"apa isi bab tiga", "tiga"}, terms)
}

func TestChunkEntryConversion(t *testing.T) {
	c := model.Chunk{
		DocumentID:  7,
		ChunkIndex:  3,
		Content:     "isi potongan",
		SourceTitle: "Fisika Dasar",
		Page:        12,
		HasEquation: true,
	}
	c.SetEmbedding([]float32{0.5, -0.25})

	e := chunkEntry(c)
	assert.Equal(t, uint(7), e.DocumentID)
	assert.Equal(t, 3, e.ChunkIndex)
	assert.Equal(t, "isi potongan", e.Content)
	assert.Equal(t, "Fisika Dasar", e.Source)
	assert.Equal(t, 12, e.Page)
	assert.True(t, e.HasEquation)
	require.Len(t, e.Embedding, 2)
	assert.InDelta(t, 0.5, float64(e.Embedding[0]), 1e-6)
	assert.InDelta(t, -0.25, float64(e.Embedding[1]), 1e-6)
}
