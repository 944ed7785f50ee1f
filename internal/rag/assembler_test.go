package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleEmpty(t *testing.T) {
	text, citations := Assemble(nil)
	assert.Empty(t, text)
	assert.Nil(t, citations)
}

func TestAssembleFormatsBlocks(t *testing.T) {
	chunks := []RetrievedChunk{
		{Entry: Entry{Source: "Fisika Dasar", Page: 12, Content: "Gaya adalah interaksi."}},
		{Entry: Entry{Source: "Catatan Kuliah", Page: 0, Content: "Momentum kekal."}},
	}

	text, citations := Assemble(chunks)

	assert.Contains(t, text, "--- Document #1: Fisika Dasar (halaman 12) ---\nGaya adalah interaksi.")
	assert.Contains(t, text, "--- Document #2: Catatan Kuliah ---\nMomentum kekal.")

	require.Len(t, citations, 2)
	assert.Equal(t, "Fisika Dasar", citations[0].Source)
	require.NotNil(t, citations[0].Page)
	assert.Equal(t, 12, *citations[0].Page)
	assert.Nil(t, citations[1].Page, "page 0 means unknown")
	assert.Equal(t, "Gaya adalah interaksi.", citations[0].Excerpt)
}

func TestAssembleTruncatesExcerpt(t *testing.T) {
	long := strings.Repeat("panjang ", 60) // well over 200 runes
	_, citations := Assemble([]RetrievedChunk{
		{Entry: Entry{Source: "Doc", Content: long}},
	})

	require.Len(t, citations, 1)
	assert.Len(t, []rune(citations[0].Excerpt), 200)
}

func TestEnsureReferencesAppends(t *testing.T) {
	page := 3
	citations := []Citation{
		{Source: "Fisika Dasar", Page: &page},
		{Source: "Catatan Kuliah"},
	}

	out := EnsureReferences("Jawaban singkat.", citations)

	assert.Contains(t, out, "Jawaban singkat.")
	assert.Contains(t, out, "Referensi:\n")
	assert.Contains(t, out, "1. Fisika Dasar (halaman 3)")
	assert.Contains(t, out, "2. Catatan Kuliah")
}

func TestEnsureReferencesDeduplicatesBySourcePage(t *testing.T) {
	page := 3
	citations := []Citation{
		{Source: "Fisika Dasar", Page: &page},
		{Source: "Fisika Dasar", Page: &page},
		{Source: "Fisika Dasar"}, // same source, unknown page: distinct entry
	}

	out := EnsureReferences("Jawaban.", citations)

	assert.Equal(t, 1, strings.Count(out, "Fisika Dasar (halaman 3)"))
	assert.Contains(t, out, "2. Fisika Dasar\n")
}

func TestEnsureReferencesRespectsExistingSection(t *testing.T) {
	answer := "Jawaban lengkap.\n\nReferensi:\n1. Sumber Lama"
	citations := []Citation{{Source: "Sumber Baru"}}

	assert.Equal(t, answer, EnsureReferences(answer, citations))
}

func TestEnsureReferencesRespectsInlineHeading(t *testing.T) {
	// Models sometimes run the list inline after the colon instead of
	// starting a new line; no second section should be appended.
	answer := "Jawaban lengkap.\n\nReferensi: Dokumen A (halaman 3)"
	citations := []Citation{{Source: "Dokumen A"}}

	assert.Equal(t, answer, EnsureReferences(answer, citations))
}

func TestEnsureReferencesNoCitations(t *testing.T) {
	assert.Equal(t, "Jawaban.", EnsureReferences("Jawaban.", nil))
}
