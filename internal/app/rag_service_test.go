package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
)

func TestBatchIngestReportSummary(t *testing.T) {
	r := &BatchIngestReport{Requested: 3, Processed: 3}
	assert.Equal(t, "processed 3 of 3 files", r.Summary())
}

func TestBatchIngestReportSummaryWithFailures(t *testing.T) {
	r := &BatchIngestReport{
		Requested: 3,
		Processed: 1,
		Failed: []FailedFile{
			{Title: "bab1.pdf", Reason: "empty text"},
			{Title: "bab2.pdf", Reason: "too large"},
		},
	}
	assert.Equal(t, "processed 1 of 3 files; failed: bab1.pdf, bab2.pdf", r.Summary())
}

// hashEmbedder derives a deterministic non-zero vector from the text so
// similar ingestion and query runs stay reproducible without a provider.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r%13) + 1
	}
	return vec, nil
}

func (h hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = h.Embed(context.Background(), text)
	}
	return out, nil
}

type fakeCompleter struct {
	response string
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, _ []rag.Turn, _ float32) (string, error) {
	f.calls++
	return f.response, nil
}

type fakeDocumentStore struct {
	nextID uint
	docs   map[uint]*model.Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{docs: make(map[uint]*model.Document)}
}

func (f *fakeDocumentStore) Create(doc *model.Document) error {
	f.nextID++
	doc.ID = f.nextID
	stored := *doc
	f.docs[doc.ID] = &stored
	return nil
}

func (f *fakeDocumentStore) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocumentStore) ListByUserID(userID uint) ([]model.Document, error) {
	var out []model.Document
	for _, doc := range f.docs {
		if doc.UserID == userID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *fakeDocumentStore) DeleteByIDAndUserID(id, userID uint) error {
	if doc, ok := f.docs[id]; ok && doc.UserID == userID {
		delete(f.docs, id)
	}
	return nil
}

type fakeChunkStore struct {
	chunks map[uint][]model.Chunk
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: make(map[uint][]model.Chunk)}
}

func (f *fakeChunkStore) UpsertBatch(chunks []model.Chunk, _ int) error {
	for _, c := range chunks {
		list := f.chunks[c.DocumentID]
		replaced := false
		for i := range list {
			if list[i].ChunkIndex == c.ChunkIndex {
				list[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, c)
		}
		f.chunks[c.DocumentID] = list
	}
	return nil
}

func (f *fakeChunkStore) TrimBeyondIndex(documentID uint, count int) error {
	var kept []model.Chunk
	for _, c := range f.chunks[documentID] {
		if c.ChunkIndex < count {
			kept = append(kept, c)
		}
	}
	f.chunks[documentID] = kept
	return nil
}

func (f *fakeChunkStore) ListByDocumentIDs(documentIDs []uint) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, id := range documentIDs {
		out = append(out, f.chunks[id]...)
	}
	return out, nil
}

func (f *fakeChunkStore) DeleteByDocumentID(documentID uint) error {
	delete(f.chunks, documentID)
	return nil
}

type fakeSessionStore struct {
	nextID   uint
	sessions map[uint]*model.RAGSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uint]*model.RAGSession)}
}

func (f *fakeSessionStore) Create(session *model.RAGSession) error {
	f.nextID++
	session.ID = f.nextID
	stored := *session
	f.sessions[session.ID] = &stored
	return nil
}

func (f *fakeSessionStore) Save(session *model.RAGSession) error {
	stored := *session
	f.sessions[session.ID] = &stored
	return nil
}

func (f *fakeSessionStore) GetActiveByUserID(userID uint) (*model.RAGSession, error) {
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == model.RAGSessionActive {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) ListByUserID(userID uint) ([]model.RAGSession, error) {
	var out []model.RAGSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) Touch(uint) error { return nil }

func (f *fakeSessionStore) RemoveDocumentFromAll(userID, documentID uint) error {
	for _, s := range f.sessions {
		if s.UserID == userID {
			s.RemoveDocumentID(documentID)
		}
	}
	return nil
}

func newTestRAGService(llm *fakeCompleter) *RAGService {
	metrics := rag.NewMetrics()
	classifier := rag.NewKeywordClassifier()
	gateway := rag.NewEmbeddingGateway(hashEmbedder{}, rag.GatewayOptions{Dimension: 8}, metrics)
	retriever := rag.NewRetriever(rag.NewPlanner(classifier), gateway, nil, metrics, rag.RetrieverOptions{})
	generator := rag.NewGenerator(llm, classifier, rag.NewThinkingExtractor(), metrics, rag.GeneratorConfig{})
	return NewRAGService(RAGServiceDeps{
		Documents:      newFakeDocumentStore(),
		Chunks:         newFakeChunkStore(),
		Sessions:       newFakeSessionStore(),
		Chunker:        rag.NewChunker(rag.ChunkerOptions{}),
		Gateway:        gateway,
		Retriever:      retriever,
		Generator:      generator,
		Classifier:     classifier,
		Metrics:        metrics,
		StoreDimension: 8,
	})
}

func TestAskIsScopedToTheAskingUser(t *testing.T) {
	llm := &fakeCompleter{response: "jawaban dari catatan"}
	svc := newTestRAGService(llm)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestInput{
		UserID:  1,
		Title:   "Catatan Pribadi",
		Content: "Isi catatan milik pemilik akun pertama saja.",
	})
	require.NoError(t, err)

	// A second user with no documents must fail fast, not read the first
	// user's working set.
	_, err = svc.Ask(ctx, AskInput{UserID: 2, Question: "apa isi catatan itu"}, nil)
	assert.ErrorIs(t, err, ErrNoDocuments)
	assert.Zero(t, llm.calls, "no generation for a user without documents")

	// The owner still gets an answer citing their own document.
	result, err := svc.Ask(ctx, AskInput{UserID: 1, Question: "apa isi catatan itu"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "Catatan Pribadi", result.Citations[0].Source)
	assert.Equal(t, 1, llm.calls)
}

func TestClearWorkingSetOnlyAffectsOneUser(t *testing.T) {
	llm := &fakeCompleter{response: "jawaban"}
	svc := newTestRAGService(llm)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestInput{UserID: 1, Title: "Dokumen A", Content: "Materi milik pengguna pertama."})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, IngestInput{UserID: 2, Title: "Dokumen B", Content: "Materi milik pengguna kedua."})
	require.NoError(t, err)

	svc.ClearWorkingSet(2)

	// User 1's working set survives user 2's clear. User 2's set reloads
	// from their own session, never from user 1's documents.
	result, err := svc.Ask(ctx, AskInput{UserID: 1, Question: "apa isi dokumen"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Dokumen A", result.Citations[0].Source)

	result, err = svc.Ask(ctx, AskInput{UserID: 2, Question: "apa isi dokumen"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Dokumen B", result.Citations[0].Source)
}

func TestUpdateContextRejectsForeignDocuments(t *testing.T) {
	llm := &fakeCompleter{response: "jawaban"}
	svc := newTestRAGService(llm)
	ctx := context.Background()

	report, err := svc.Ingest(ctx, IngestInput{UserID: 1, Title: "Dokumen A", Content: "Materi milik pengguna pertama."})
	require.NoError(t, err)

	_, err = svc.UpdateContext(ctx, 2, []uint{report.DocumentID})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
