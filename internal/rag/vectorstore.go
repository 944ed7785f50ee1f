package rag

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Entry is the in-memory mirror of a persisted chunk: content, normalized
// embedding, and the source metadata retrieval needs.
type Entry struct {
	DocumentID  uint
	ChunkIndex  int
	Content     string
	Source      string
	Page        int // 0 = unknown
	HasEquation bool
	Embedding   []float32
}

// SearchHit is an entry with its similarity to the query vector.
type SearchHit struct {
	Entry
	Score float32
}

// MemoryStore is the ephemeral tier of the dual vector store: brute-force
// cosine similarity over the active session's working set. It is a cache,
// never the source of truth; the persistent chunk store is authoritative.
// A single-writer lock serializes mutation against concurrent reads.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	entries   []Entry
	docTitles map[uint]string
}

func NewMemoryStore(dimension int) *MemoryStore {
	if dimension <= 0 {
		dimension = 1536
	}
	return &MemoryStore{
		dimension: dimension,
		docTitles: make(map[uint]string),
	}
}

func (s *MemoryStore) Dimension() int { return s.dimension }

// Upsert adds entries to the working set. Embeddings must already be
// normalized to the store dimension; ragged vectors are rejected so
// similarity math never sees them.
func (s *MemoryStore) Upsert(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		if len(entries[i].Embedding) != s.dimension {
			return fmt.Errorf("entry %d: embedding dimension %d, store expects %d",
				i, len(entries[i].Embedding), s.dimension)
		}
	}
	for _, e := range entries {
		s.entries = append(s.entries, e)
		if _, ok := s.docTitles[e.DocumentID]; !ok {
			s.docTitles[e.DocumentID] = e.Source
		}
	}
	return nil
}

// Search returns the top-k entries by cosine similarity, descending.
func (s *MemoryStore) Search(vector []float32, k int) []SearchHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 5
	}

	hits := make([]SearchHit, 0, len(s.entries))
	for _, e := range s.entries {
		score := CosineSimilarity(vector, e.Embedding)
		hits = append(hits, SearchHit{Entry: e, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// SearchMMR selects k entries by maximal marginal relevance: each pick
// maximizes lambda*sim(query,e) - (1-lambda)*max sim(e, selected). Used as a
// diversity fallback when plain top-k returns nothing useful.
func (s *MemoryStore) SearchMMR(vector []float32, k int, lambda float32) []SearchHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 5
	}
	if lambda <= 0 || lambda > 1 {
		lambda = 0.5
	}

	remaining := make([]SearchHit, 0, len(s.entries))
	for _, e := range s.entries {
		remaining = append(remaining, SearchHit{Entry: e, Score: CosineSimilarity(vector, e.Embedding)})
	}

	var selected []SearchHit
	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestValue := float32(math.Inf(-1))
		for i, cand := range remaining {
			var maxSim float32
			for _, sel := range selected {
				if sim := CosineSimilarity(cand.Embedding, sel.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			value := lambda*cand.Score - (1-lambda)*maxSim
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// RemoveDocument rebuilds the store without the given document's entries.
// There is no targeted delete primitive; a rebuild keeps the slice compact.
func (s *MemoryStore) RemoveDocument(documentID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	delete(s.docTitles, documentID)
}

// Clear drops all in-memory state and the active-document set. Persisted
// chunks are untouched.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.docTitles = make(map[uint]string)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ActiveDocumentIDs returns the ids in the working set, ascending.
func (s *MemoryStore) ActiveDocumentIDs() []uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint, 0, len(s.docTitles))
	for id := range s.docTitles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DocumentTitles returns the titles in the working set sorted for
// deterministic query expansion.
func (s *MemoryStore) DocumentTitles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	titles := make([]string, 0, len(s.docTitles))
	for _, t := range s.docTitles {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
