package rag

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"
	"unicode/utf8"
)

var (
	// ErrNoDocuments means the working set is empty: nothing has been
	// processed yet. Callers fail fast on this before any LLM call.
	ErrNoDocuments = errors.New("no documents have been processed yet")

	// ErrNoRelevantContent means every tier came up empty. This is a
	// user-facing condition, never a silent empty answer.
	ErrNoRelevantContent = errors.New("no relevant information found in the documents")
)

// SearchMode tags which strategy produced a result so callers can tell a
// high-confidence vector match from a degraded keyword guess.
type SearchMode string

const (
	ModeMemoryVector     SearchMode = "memory_vector"
	ModeMemoryMMR        SearchMode = "memory_mmr"
	ModePersistentVector SearchMode = "persistent_vector"
	ModeKeyword          SearchMode = "keyword"
)

// Degraded reports whether the mode is a fallback below in-memory vector
// search quality.
func (m SearchMode) Degraded() bool {
	return m == ModeKeyword
}

// RetrievedChunk is a deduplicated, ranked retrieval result.
type RetrievedChunk struct {
	Entry
	Score float32
	Mode  SearchMode
}

// PersistentSearcher is the persistent-tier contract: vector search with the
// store's own fallback chain. The returned mode names the strategy that
// actually served the results.
type PersistentSearcher interface {
	Search(ctx context.Context, embedding []float32, query string, documentIDs []uint, limit int) ([]RetrievedChunk, SearchMode, error)
}

// RetrieverOptions tune the retrieval loop.
type RetrieverOptions struct {
	PerVariantK       int // top-k per query variant
	TargetResults     int // stop expanding variants once this many unique results accumulate
	MinResults        int // below this, supplement from the persistent tier
	FingerprintLength int // content-prefix length for deduplication
	MMRLambda         float32
}

func (o *RetrieverOptions) applyDefaults() {
	if o.PerVariantK <= 0 {
		o.PerVariantK = 7
	}
	if o.TargetResults <= 0 {
		o.TargetResults = 5
	}
	if o.MinResults <= 0 {
		o.MinResults = 3
	}
	if o.FingerprintLength <= 0 {
		o.FingerprintLength = 100
	}
	if o.MMRLambda <= 0 {
		o.MMRLambda = 0.5
	}
}

// Retriever runs query variants against a caller-supplied in-memory store,
// falls back to MMR for diversity, supplements from the persistent tier, and
// deduplicates by content-prefix fingerprint. The store is passed per call so
// one retriever can serve many isolated working sets.
type Retriever struct {
	planner    *Planner
	gateway    *EmbeddingGateway
	persistent PersistentSearcher // may be nil
	metrics    *Metrics
	opts       RetrieverOptions
}

func NewRetriever(
	planner *Planner,
	gateway *EmbeddingGateway,
	persistent PersistentSearcher,
	metrics *Metrics,
	opts RetrieverOptions,
) *Retriever {
	opts.applyDefaults()
	return &Retriever{
		planner:    planner,
		gateway:    gateway,
		persistent: persistent,
		metrics:    metrics,
		opts:       opts,
	}
}

// Retrieve returns the deduplicated, ranked chunk list for the query, scoped
// to the given store. Ordering is similarity descending; equal scores
// preserve first-seen order, which keeps in-memory results ahead of
// persistent supplements.
func (r *Retriever) Retrieve(ctx context.Context, store *MemoryStore, query string) ([]RetrievedChunk, error) {
	if store.Len() == 0 {
		return nil, ErrNoDocuments
	}

	started := time.Now()
	variants := r.planner.Expand(query, store.DocumentTitles())

	var collected []RetrievedChunk
	seen := make(map[string]bool)
	var firstVector []float32
	mode := ModeMemoryVector

	for _, variant := range variants {
		vec, err := r.gateway.EmbedQuery(ctx, variant)
		if err != nil {
			log.Printf("retriever: embedding variant failed, skipping: %v", err)
			continue
		}
		if firstVector == nil {
			firstVector = vec
		}
		for _, hit := range store.Search(vec, r.opts.PerVariantK) {
			fp := r.fingerprint(hit.Content)
			if seen[fp] {
				continue
			}
			seen[fp] = true
			collected = append(collected, RetrievedChunk{Entry: hit.Entry, Score: hit.Score, Mode: ModeMemoryVector})
		}
		if len(collected) >= r.opts.TargetResults {
			break
		}
	}

	// Diversity fallback: plain top-k found nothing useful.
	if len(collected) == 0 && firstVector != nil {
		for _, hit := range store.SearchMMR(firstVector, r.opts.PerVariantK, r.opts.MMRLambda) {
			fp := r.fingerprint(hit.Content)
			if seen[fp] {
				continue
			}
			seen[fp] = true
			collected = append(collected, RetrievedChunk{Entry: hit.Entry, Score: hit.Score, Mode: ModeMemoryMMR})
		}
		if len(collected) > 0 {
			mode = ModeMemoryMMR
		}
	}

	sort.SliceStable(collected, func(i, j int) bool { return collected[i].Score > collected[j].Score })

	// Supplement from the persistent tier using the raw query, not the
	// expansion variants.
	if len(collected) < r.opts.MinResults && r.persistent != nil {
		supplemented, supMode, err := r.supplementFromPersistent(ctx, store, query, seen)
		if err != nil {
			if len(collected) == 0 {
				return nil, err
			}
			log.Printf("retriever: persistent supplement failed, keeping %d in-memory result(s): %v", len(collected), err)
		} else if len(supplemented) > 0 {
			collected = append(collected, supplemented...)
			sort.SliceStable(collected, func(i, j int) bool { return collected[i].Score > collected[j].Score })
			mode = supMode
		}
	}

	if r.metrics != nil {
		r.metrics.RecordRetrieval(time.Since(started), mode)
	}
	if len(collected) == 0 {
		return nil, ErrNoRelevantContent
	}
	return collected, nil
}

func (r *Retriever) supplementFromPersistent(ctx context.Context, store *MemoryStore, query string, seen map[string]bool) ([]RetrievedChunk, SearchMode, error) {
	vec, err := r.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, "", err
	}
	results, supMode, err := r.persistent.Search(ctx, vec, query, store.ActiveDocumentIDs(), r.opts.PerVariantK)
	if err != nil {
		return nil, "", err
	}
	var kept []RetrievedChunk
	for _, res := range results {
		fp := r.fingerprint(res.Content)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		res.Mode = supMode
		kept = append(kept, res)
	}
	if supMode.Degraded() {
		log.Printf("retriever: persistent tier degraded to %s search", supMode)
	}
	return kept, supMode, nil
}

// fingerprint is the dedup key: the first FingerprintLength runes of content.
// Two chunks sharing that prefix are treated as the same result even when
// their full content differs; a known trade-off kept for parity (a
// full-content hash would distinguish repeated headers).
func (r *Retriever) fingerprint(content string) string {
	if utf8.RuneCountInString(content) <= r.opts.FingerprintLength {
		return content
	}
	return string([]rune(content)[:r.opts.FingerprintLength])
}
