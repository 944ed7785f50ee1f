package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
)

// ChunkRepository is the persistent tier of the dual vector store. It is the
// source of truth for chunks; the in-memory store is rebuilt from it.
type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// UpsertBatch writes chunks idempotently on the (document_id, chunk_index)
// conflict key so re-ingestion repairs partial failures instead of
// duplicating rows.
func (r *ChunkRepository) UpsertBatch(chunks []model.Chunk, batchSize int) error {
	if len(chunks) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "source_title", "page", "has_equation", "chunk_type", "embedding",
		}),
	}).CreateInBatches(&chunks, batchSize).Error
	if err != nil {
		return fmt.Errorf("upsert chunks batch failed: %w", err)
	}
	return nil
}

// ListByDocumentIDs returns all chunks for the given documents, ordered by
// document and chunk index. Caller must have filtered the ids by ownership.
func (r *ChunkRepository) ListByDocumentIDs(documentIDs []uint) ([]model.Chunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var chunks []model.Chunk
	if err := r.db.Where("document_id IN ?", documentIDs).
		Order("document_id, chunk_index").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document ids failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}

// TrimBeyondIndex purges stale chunks past the new chunk count after a
// document is reprocessed into fewer chunks.
func (r *ChunkRepository) TrimBeyondIndex(documentID uint, count int) error {
	if err := r.db.Where("document_id = ? AND chunk_index >= ?", documentID, count).
		Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("trim chunks beyond index failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) CountByDocumentID(documentID uint) (int64, error) {
	var n int64
	if err := r.db.Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks failed: %w", err)
	}
	return n, nil
}

// Search implements the persistent tier's fallback chain: a server-side
// vector distance operation where the backing database supports one, an
// explicit in-process distance computation otherwise, and keyword search over
// the active documents' content as the last resort. The returned mode names
// the strategy that actually served the results.
func (r *ChunkRepository) Search(
	ctx context.Context,
	embedding []float32,
	query string,
	documentIDs []uint,
	limit int,
) ([]rag.RetrievedChunk, rag.SearchMode, error) {
	if len(documentIDs) == 0 {
		return nil, rag.ModePersistentVector, nil
	}
	if limit <= 0 {
		limit = 7
	}

	if hits, err := r.serverVectorSearch(ctx, embedding, documentIDs, limit); err == nil {
		return hits, rag.ModePersistentVector, nil
	}

	hits, vecErr := r.clientVectorSearch(ctx, embedding, documentIDs, limit)
	if vecErr == nil && len(hits) > 0 {
		return hits, rag.ModePersistentVector, nil
	}
	if vecErr != nil {
		log.Printf("chunk repository: vector search failed, trying keyword: %v", vecErr)
	}

	hits, kwErr := r.keywordSearch(ctx, query, documentIDs, limit)
	if kwErr != nil {
		if vecErr != nil {
			return nil, "", fmt.Errorf("persistent search failed: vector (%v), keyword (%w)", vecErr, kwErr)
		}
		return nil, "", fmt.Errorf("keyword search failed: %w", kwErr)
	}
	return hits, rag.ModeKeyword, nil
}

// serverVectorSearch uses a native vector distance function. Plain MySQL has
// none; vector-capable forks do. An error here just moves the chain along.
func (r *ChunkRepository) serverVectorSearch(ctx context.Context, embedding []float32, documentIDs []uint, limit int) ([]rag.RetrievedChunk, error) {
	vecJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}

	type row struct {
		model.Chunk
		Distance float32
	}
	var rows []row
	err = r.db.WithContext(ctx).Raw(
		`SELECT id, document_id, chunk_index, content, source_title, page, has_equation, chunk_type,
		        VEC_COSINE_DISTANCE(embedding, ?) AS distance
		 FROM chunks WHERE document_id IN ? ORDER BY distance ASC LIMIT ?`,
		string(vecJSON), documentIDs, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	hits := make([]rag.RetrievedChunk, 0, len(rows))
	for _, cr := range rows {
		hits = append(hits, rag.RetrievedChunk{
			Entry: chunkEntry(cr.Chunk),
			Score: 1 - cr.Distance,
			Mode:  rag.ModePersistentVector,
		})
	}
	return hits, nil
}

// clientVectorSearch fetches candidate rows and scores them in-process.
func (r *ChunkRepository) clientVectorSearch(ctx context.Context, embedding []float32, documentIDs []uint, limit int) ([]rag.RetrievedChunk, error) {
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).Where("document_id IN ?", documentIDs).
		Find(&chunks).Error; err != nil {
		return nil, err
	}

	hits := make([]rag.RetrievedChunk, 0, len(chunks))
	for i := range chunks {
		score := rag.CosineSimilarity(embedding, chunks[i].EmbeddingVector())
		hits = append(hits, rag.RetrievedChunk{
			Entry: chunkEntry(chunks[i]),
			Score: score,
			Mode:  rag.ModePersistentVector,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// keywordSearch is the last-resort degraded path: substring matching over
// chunk content, restricted to the active documents. Hits score zero so they
// always rank below vector matches.
func (r *ChunkRepository) keywordSearch(ctx context.Context, query string, documentIDs []uint, limit int) ([]rag.RetrievedChunk, error) {
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	tx := r.db.WithContext(ctx).Where("document_id IN ?", documentIDs)
	cond := r.db.Where("LOWER(content) LIKE ?", "%"+terms[0]+"%")
	for _, term := range terms[1:] {
		cond = cond.Or("LOWER(content) LIKE ?", "%"+term+"%")
	}

	var chunks []model.Chunk
	if err := tx.Where(cond).Limit(limit).Find(&chunks).Error; err != nil {
		return nil, err
	}

	hits := make([]rag.RetrievedChunk, 0, len(chunks))
	for i := range chunks {
		hits = append(hits, rag.RetrievedChunk{
			Entry: chunkEntry(chunks[i]),
			Score: 0,
			Mode:  rag.ModeKeyword,
		})
	}
	return hits, nil
}

// keywordTerms extracts the whole query plus its longer words as lowercase
// search terms.
func keywordTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	terms := []string{query}
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, `"?!.,()`)
		if len(word) >= 4 && word != query {
			terms = append(terms, word)
		}
	}
	return terms
}

func chunkEntry(c model.Chunk) rag.Entry {
	return rag.Entry{
		DocumentID:  c.DocumentID,
		ChunkIndex:  c.ChunkIndex,
		Content:     c.Content,
		Source:      c.SourceTitle,
		Page:        c.Page,
		HasEquation: c.HasEquation,
		Embedding:   c.EmbeddingVector(),
	}
}
