package rag

import (
	"sync"
	"time"
)

// Metrics tracks process-wide retrieval pipeline counters. A Snapshot rides
// along with each query result and is mirrored to the metrics cache per user.
type Metrics struct {
	mu sync.Mutex

	queriesByCategory map[string]int64
	searchesByMode    map[SearchMode]int64
	dimensionAdjusts  int64
	zeroVectors       int64
	llmFailures       int64
	retrievalTotal    time.Duration
	retrievalCount    int64
}

// Snapshot is an immutable copy of the counters.
type Snapshot struct {
	QueriesByCategory  map[string]int64     `json:"queries_by_category"`
	SearchesByMode     map[SearchMode]int64 `json:"searches_by_mode"`
	DimensionAdjusts   int64                `json:"dimension_adjusts"`
	ZeroVectorFallback int64                `json:"zero_vector_fallbacks"`
	LLMFailures        int64                `json:"llm_failures"`
	AvgRetrievalMillis int64                `json:"avg_retrieval_millis"`
	RetrievalCount     int64                `json:"retrieval_count"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		queriesByCategory: make(map[string]int64),
		searchesByMode:    make(map[SearchMode]int64),
	}
}

func (m *Metrics) RecordQuery(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queriesByCategory[category]++
}

func (m *Metrics) RecordRetrieval(elapsed time.Duration, mode SearchMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievalTotal += elapsed
	m.retrievalCount++
	m.searchesByMode[mode]++
}

func (m *Metrics) RecordDimensionAdjust() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensionAdjusts++
}

func (m *Metrics) RecordZeroVectors(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zeroVectors += int64(n)
}

func (m *Metrics) RecordLLMFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmFailures++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	categories := make(map[string]int64, len(m.queriesByCategory))
	for k, v := range m.queriesByCategory {
		categories[k] = v
	}
	modes := make(map[SearchMode]int64, len(m.searchesByMode))
	for k, v := range m.searchesByMode {
		modes[k] = v
	}

	var avgMillis int64
	if m.retrievalCount > 0 {
		avgMillis = m.retrievalTotal.Milliseconds() / m.retrievalCount
	}
	return Snapshot{
		QueriesByCategory:  categories,
		SearchesByMode:     modes,
		DimensionAdjusts:   m.dimensionAdjusts,
		ZeroVectorFallback: m.zeroVectors,
		LLMFailures:        m.llmFailures,
		AvgRetrievalMillis: avgMillis,
		RetrievalCount:     m.retrievalCount,
	}
}
