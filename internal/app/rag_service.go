package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNoDocuments      = errors.New("no documents loaded; upload a document first")
	ErrNoRelevantChunks = errors.New("no relevant content found in the loaded documents")
)

// StreamingLLM is the streaming completion contract used by AskStream.
type StreamingLLM interface {
	StreamComplete(ctx context.Context, system string, turns []rag.Turn, temperature float32, onChunk func(string) error) (string, error)
}

// IngestEnqueuer hands document processing to the background worker.
type IngestEnqueuer interface {
	Publish(ctx context.Context, userID, documentID uint) (string, error)
}

// MetricsMirror persists metric snapshots out of process.
type MetricsMirror interface {
	SetSnapshot(ctx context.Context, userID uint, snapshot rag.Snapshot) error
}

// DocumentStore is the document persistence contract; the GORM repository
// satisfies it.
type DocumentStore interface {
	Create(doc *model.Document) error
	GetByIDAndUserID(id, userID uint) (*model.Document, error)
	ListByUserID(userID uint) ([]model.Document, error)
	DeleteByIDAndUserID(id, userID uint) error
}

// ChunkStore is the chunk persistence contract.
type ChunkStore interface {
	UpsertBatch(chunks []model.Chunk, batchSize int) error
	TrimBeyondIndex(documentID uint, count int) error
	ListByDocumentIDs(documentIDs []uint) ([]model.Chunk, error)
	DeleteByDocumentID(documentID uint) error
}

// SessionStore is the rag-session persistence contract.
type SessionStore interface {
	Create(session *model.RAGSession) error
	Save(session *model.RAGSession) error
	GetActiveByUserID(userID uint) (*model.RAGSession, error)
	ListByUserID(userID uint) ([]model.RAGSession, error)
	Touch(id uint) error
	RemoveDocumentFromAll(userID, documentID uint) error
}

// RAGServiceDeps wires the service; Enqueuer, Streamer, Mirror, and History
// are optional.
type RAGServiceDeps struct {
	Documents  DocumentStore
	Chunks     ChunkStore
	Sessions   SessionStore
	Chunker    *rag.Chunker
	Gateway    *rag.EmbeddingGateway
	Retriever  *rag.Retriever
	Generator  *rag.Generator
	Classifier rag.Classifier
	Metrics    *rag.Metrics
	Enqueuer   IngestEnqueuer
	Streamer   StreamingLLM
	Mirror     MetricsMirror

	// StoreDimension sizes each per-user in-memory working set.
	StoreDimension  int
	UpsertBatchSize int
	MaxHistoryTurns int
}

// RAGService orchestrates the document question-answering pipeline: ingestion
// (chunk, embed, persist, load into the working set) and answering (retrieve,
// assemble, generate, cite). Each user gets their own in-memory working set;
// one user's documents are never visible to another user's retrieval.
type RAGService struct {
	deps RAGServiceDeps

	mu     sync.Mutex
	stores map[uint]*rag.MemoryStore
}

func NewRAGService(deps RAGServiceDeps) *RAGService {
	if deps.StoreDimension <= 0 {
		deps.StoreDimension = 1536
	}
	if deps.UpsertBatchSize <= 0 {
		deps.UpsertBatchSize = 100
	}
	if deps.Classifier == nil {
		deps.Classifier = rag.NewKeywordClassifier()
	}
	if deps.Metrics == nil {
		deps.Metrics = rag.NewMetrics()
	}
	return &RAGService{
		deps:   deps,
		stores: make(map[uint]*rag.MemoryStore),
	}
}

// storeFor returns the user's working set, creating it on first use.
func (s *RAGService) storeFor(userID uint) *rag.MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.stores[userID]
	if !ok {
		store = rag.NewMemoryStore(s.deps.StoreDimension)
		s.stores[userID] = store
	}
	return store
}

type IngestInput struct {
	UserID    uint
	Title     string
	Content   string
	PageCount int
	SizeBytes int64
}

type IngestReport struct {
	DocumentID     uint   `json:"document_id"`
	Title          string `json:"title"`
	ChunkCount     int    `json:"chunk_count"`
	EquationChunks int    `json:"equation_chunks"`
}

type FailedFile struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// BatchIngestReport records a multi-file upload: one file failing does not
// abort the rest.
type BatchIngestReport struct {
	Requested int            `json:"requested"`
	Processed int            `json:"processed"`
	Reports   []IngestReport `json:"reports"`
	Failed    []FailedFile   `json:"failed,omitempty"`
}

func (r *BatchIngestReport) Summary() string {
	if len(r.Failed) == 0 {
		return fmt.Sprintf("processed %d of %d files", r.Processed, r.Requested)
	}
	names := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		names = append(names, f.Title)
	}
	return fmt.Sprintf("processed %d of %d files; failed: %s",
		r.Processed, r.Requested, strings.Join(names, ", "))
}

// CreateDocument persists the document row without processing it. Re-uploads
// with the same title create a new document; replacement is explicit via ID.
func (s *RAGService) CreateDocument(input IngestInput) (*model.Document, error) {
	title := strings.TrimSpace(input.Title)
	if input.UserID == 0 || title == "" || strings.TrimSpace(input.Content) == "" {
		return nil, ErrInvalidInput
	}
	doc := &model.Document{
		UserID:            input.UserID,
		Title:             title,
		Content:           input.Content,
		SizeBytes:         input.SizeBytes,
		PageCount:         input.PageCount,
		ContainsEquations: rag.ContainsMathNotation(input.Content),
	}
	if err := s.deps.Documents.Create(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Ingest stores the document and processes it synchronously.
func (s *RAGService) Ingest(ctx context.Context, input IngestInput) (*IngestReport, error) {
	doc, err := s.CreateDocument(input)
	if err != nil {
		return nil, err
	}
	return s.ProcessDocument(ctx, input.UserID, doc.ID)
}

// IngestAsync stores the document and enqueues processing, returning the
// document and the queue job id. Falls back to synchronous processing when no
// queue is configured.
func (s *RAGService) IngestAsync(ctx context.Context, input IngestInput) (*model.Document, string, error) {
	doc, err := s.CreateDocument(input)
	if err != nil {
		return nil, "", err
	}
	if s.deps.Enqueuer == nil {
		_, err := s.ProcessDocument(ctx, input.UserID, doc.ID)
		return doc, "", err
	}
	jobID, err := s.deps.Enqueuer.Publish(ctx, input.UserID, doc.ID)
	if err != nil {
		log.Printf("ingest enqueue failed for document %d, processing inline: %v", doc.ID, err)
		_, procErr := s.ProcessDocument(ctx, input.UserID, doc.ID)
		return doc, "", procErr
	}
	return doc, jobID, nil
}

// IngestFiles processes a batch of already-extracted files. Each file is
// independent; failures are collected per file and cancellation stops the
// remainder of the batch.
func (s *RAGService) IngestFiles(ctx context.Context, userID uint, files []IngestInput) (*BatchIngestReport, error) {
	if userID == 0 || len(files) == 0 {
		return nil, ErrInvalidInput
	}
	report := &BatchIngestReport{Requested: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		f.UserID = userID
		fileReport, err := s.Ingest(ctx, f)
		if err != nil {
			report.Failed = append(report.Failed, FailedFile{Title: f.Title, Reason: err.Error()})
			continue
		}
		report.Processed++
		report.Reports = append(report.Reports, *fileReport)
	}
	return report, nil
}

// ProcessDocument runs the ingestion pipeline for a stored document: chunk,
// embed, upsert by (document_id, chunk_index), trim stale rows beyond the new
// count, refresh the in-memory working set, and attach the document to the
// user's active session. Safe to re-run; the conflict key makes it idempotent.
func (s *RAGService) ProcessDocument(ctx context.Context, userID, documentID uint) (*IngestReport, error) {
	doc, err := s.deps.Documents.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("document %d has no extractable text", documentID)
	}

	drafts := s.deps.Chunker.Chunk(doc.Content)
	if len(drafts) == 0 {
		return nil, fmt.Errorf("document %d produced no chunks", documentID)
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Content
	}
	vectors, err := s.deps.Gateway.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding document %d failed: %w", documentID, err)
	}

	chunks := make([]model.Chunk, len(drafts))
	entries := make([]rag.Entry, len(drafts))
	equationChunks := 0
	for i, d := range drafts {
		chunks[i] = model.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  d.Index,
			Content:     d.Content,
			SourceTitle: doc.Title,
			Page:        d.Page,
			HasEquation: d.HasEquation,
			ChunkType:   d.ChunkType,
		}
		chunks[i].SetEmbedding(vectors[i])
		entries[i] = rag.Entry{
			DocumentID:  doc.ID,
			ChunkIndex:  d.Index,
			Content:     d.Content,
			Source:      doc.Title,
			Page:        d.Page,
			HasEquation: d.HasEquation,
			Embedding:   vectors[i],
		}
		if d.HasEquation {
			equationChunks++
		}
	}

	if err := s.deps.Chunks.UpsertBatch(chunks, s.deps.UpsertBatchSize); err != nil {
		return nil, fmt.Errorf("persisting chunks for document %d failed: %w", documentID, err)
	}
	if err := s.deps.Chunks.TrimBeyondIndex(doc.ID, len(chunks)); err != nil {
		return nil, fmt.Errorf("trimming stale chunks for document %d failed: %w", documentID, err)
	}

	store := s.storeFor(userID)
	store.RemoveDocument(doc.ID)
	if err := store.Upsert(entries); err != nil {
		return nil, fmt.Errorf("loading document %d into the working set failed: %w", documentID, err)
	}

	if err := s.attachToActiveSession(userID, doc.ID); err != nil {
		log.Printf("session update for document %d failed: %v", doc.ID, err)
	}

	return &IngestReport{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		ChunkCount:     len(chunks),
		EquationChunks: equationChunks,
	}, nil
}

func (s *RAGService) attachToActiveSession(userID, documentID uint) error {
	session, err := s.deps.Sessions.GetActiveByUserID(userID)
	if err != nil {
		return err
	}
	if session == nil {
		session = &model.RAGSession{UserID: userID, Status: model.RAGSessionActive}
		session.SetDocumentIDs([]uint{documentID})
		return s.deps.Sessions.Create(session)
	}
	ids := session.DocumentIDs()
	for _, id := range ids {
		if id == documentID {
			return s.deps.Sessions.Touch(session.ID)
		}
	}
	session.SetDocumentIDs(append(ids, documentID))
	if err := s.deps.Sessions.Save(session); err != nil {
		return err
	}
	return s.deps.Sessions.Touch(session.ID)
}

type AskInput struct {
	UserID         uint
	ConversationID uint
	Question       string
	Style          string
	ShowThinking   bool
}

// QueryResult is one answered question with its provenance.
type QueryResult struct {
	Answer    string         `json:"answer"`
	Thinking  string         `json:"thinking_process,omitempty"`
	Citations []rag.Citation `json:"citations"`
	IsMath    bool           `json:"is_math"`
	Degraded  bool           `json:"degraded"`
	Metrics   rag.Snapshot   `json:"metrics"`
}

// HistoryProvider supplies prior turns for a conversation.
type HistoryProvider interface {
	HistoryTurns(ctx context.Context, userID, conversationID uint, n int) ([]rag.Turn, error)
}

// Ask answers a question from the user's loaded documents. It fails fast when
// no documents are loaded; no LLM call is made in that case.
func (s *RAGService) Ask(ctx context.Context, input AskInput, history HistoryProvider) (*QueryResult, error) {
	contextText, citations, degraded, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	turns, err := s.historyFor(ctx, input, history)
	if err != nil {
		return nil, err
	}

	answer, err := s.deps.Generator.Generate(ctx, input.Question, contextText, turns, rag.GenerateOptions{
		Style:        input.Style,
		ShowThinking: input.ShowThinking,
	})
	if err != nil {
		return nil, err
	}

	result := &QueryResult{
		Answer:    rag.EnsureReferences(answer.Text, citations),
		Thinking:  answer.Thinking,
		Citations: citations,
		IsMath:    answer.IsMath,
		Degraded:  degraded,
	}
	s.finishQuery(ctx, input.UserID, result)
	return result, nil
}

// AskStream answers like Ask but streams answer deltas through onChunk before
// returning the final result with references appended. Thinking extraction
// happens on the full text after the stream completes.
func (s *RAGService) AskStream(ctx context.Context, input AskInput, history HistoryProvider, onChunk func(string) error) (*QueryResult, error) {
	if s.deps.Streamer == nil {
		return s.Ask(ctx, input, history)
	}

	contextText, citations, degraded, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}
	turns, err := s.historyFor(ctx, input, history)
	if err != nil {
		return nil, err
	}

	opts := rag.GenerateOptions{Style: input.Style, ShowThinking: input.ShowThinking}
	system, promptTurns, temperature, err := s.deps.Generator.Prompt(input.Question, contextText, turns, opts)
	if err != nil {
		return nil, err
	}

	raw, err := s.deps.Streamer.StreamComplete(ctx, system, promptTurns, temperature, onChunk)
	if err != nil {
		s.deps.Metrics.RecordLLMFailure()
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	text := strings.TrimSpace(raw)
	thinking := ""
	if input.ShowThinking {
		text, thinking = s.deps.Generator.ExtractThinking(raw)
	}
	result := &QueryResult{
		Answer:    rag.EnsureReferences(text, citations),
		Thinking:  thinking,
		Citations: citations,
		IsMath:    s.deps.Generator.IsMathQuery(input.Question),
		Degraded:  degraded,
	}
	s.finishQuery(ctx, input.UserID, result)
	return result, nil
}

// prepare validates the question, makes sure the working set is loaded, runs
// retrieval, and assembles the context block.
func (s *RAGService) prepare(ctx context.Context, input AskInput) (string, []rag.Citation, bool, error) {
	question := strings.TrimSpace(input.Question)
	if input.UserID == 0 || question == "" {
		return "", nil, false, ErrInvalidInput
	}

	if err := s.EnsureWorkingSet(ctx, input.UserID); err != nil {
		return "", nil, false, err
	}
	store := s.storeFor(input.UserID)
	if store.Len() == 0 {
		return "", nil, false, ErrNoDocuments
	}

	s.deps.Metrics.RecordQuery(s.deps.Classifier.Category(question))

	chunks, err := s.deps.Retriever.Retrieve(ctx, store, question)
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrNoDocuments):
			return "", nil, false, ErrNoDocuments
		case errors.Is(err, rag.ErrNoRelevantContent):
			return "", nil, false, ErrNoRelevantChunks
		default:
			return "", nil, false, err
		}
	}

	degraded := false
	for _, c := range chunks {
		if c.Mode.Degraded() {
			degraded = true
			break
		}
	}

	contextText, citations := rag.Assemble(chunks)
	return contextText, citations, degraded, nil
}

func (s *RAGService) historyFor(ctx context.Context, input AskInput, history HistoryProvider) ([]rag.Turn, error) {
	if history == nil || input.ConversationID == 0 {
		return nil, nil
	}
	n := s.deps.MaxHistoryTurns
	if n <= 0 {
		n = 10
	}
	return history.HistoryTurns(ctx, input.UserID, input.ConversationID, n)
}

// finishQuery mirrors the metrics snapshot and touches the active session.
// Both are best effort; a failure never fails the answer.
func (s *RAGService) finishQuery(ctx context.Context, userID uint, result *QueryResult) {
	result.Metrics = s.deps.Metrics.Snapshot()
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.SetSnapshot(ctx, userID, result.Metrics); err != nil {
			log.Printf("metrics snapshot mirror failed: %v", err)
		}
	}
	if session, err := s.deps.Sessions.GetActiveByUserID(userID); err == nil && session != nil {
		_ = s.deps.Sessions.Touch(session.ID)
	}
}

// EnsureWorkingSet rebuilds the user's in-memory store from their active
// session's documents when the store is empty, e.g. after a restart.
func (s *RAGService) EnsureWorkingSet(ctx context.Context, userID uint) error {
	store := s.storeFor(userID)
	if store.Len() > 0 {
		return nil
	}
	session, err := s.deps.Sessions.GetActiveByUserID(userID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	ids := session.DocumentIDs()
	if len(ids) == 0 {
		return nil
	}
	return s.loadDocuments(store, ids)
}

func (s *RAGService) loadDocuments(store *rag.MemoryStore, documentIDs []uint) error {
	chunks, err := s.deps.Chunks.ListByDocumentIDs(documentIDs)
	if err != nil {
		return err
	}
	entries := make([]rag.Entry, 0, len(chunks))
	for i := range chunks {
		vec := s.deps.Gateway.Normalize(chunks[i].EmbeddingVector())
		entries = append(entries, rag.Entry{
			DocumentID:  chunks[i].DocumentID,
			ChunkIndex:  chunks[i].ChunkIndex,
			Content:     chunks[i].Content,
			Source:      chunks[i].SourceTitle,
			Page:        chunks[i].Page,
			HasEquation: chunks[i].HasEquation,
			Embedding:   vec,
		})
	}
	return store.Upsert(entries)
}

// UpdateContext replaces the active session's document set and rebuilds the
// user's working set from the persistent store. Ownership of every document
// is verified first.
func (s *RAGService) UpdateContext(ctx context.Context, userID uint, documentIDs []uint) (*model.RAGSession, error) {
	if userID == 0 || len(documentIDs) == 0 {
		return nil, ErrInvalidInput
	}
	for _, id := range documentIDs {
		doc, err := s.deps.Documents.GetByIDAndUserID(id, userID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, ErrDocumentNotFound
		}
	}

	session, err := s.deps.Sessions.GetActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &model.RAGSession{UserID: userID, Status: model.RAGSessionActive}
		session.SetDocumentIDs(documentIDs)
		if err := s.deps.Sessions.Create(session); err != nil {
			return nil, err
		}
	} else {
		session.SetDocumentIDs(documentIDs)
		if err := s.deps.Sessions.Save(session); err != nil {
			return nil, err
		}
		_ = s.deps.Sessions.Touch(session.ID)
	}

	store := s.storeFor(userID)
	store.Clear()
	if err := s.loadDocuments(store, documentIDs); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteDocument removes a document and everything derived from it: chunk
// rows, working-set entries, and session references.
func (s *RAGService) DeleteDocument(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.deps.Documents.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if err := s.deps.Chunks.DeleteByDocumentID(documentID); err != nil {
		return err
	}
	if err := s.deps.Documents.DeleteByIDAndUserID(documentID, userID); err != nil {
		return err
	}
	s.storeFor(userID).RemoveDocument(documentID)
	if err := s.deps.Sessions.RemoveDocumentFromAll(userID, documentID); err != nil {
		log.Printf("removing document %d from sessions failed: %v", documentID, err)
	}
	return nil
}

func (s *RAGService) ListDocuments(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.deps.Documents.ListByUserID(userID)
}

func (s *RAGService) Sessions(userID uint) ([]model.RAGSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.deps.Sessions.ListByUserID(userID)
}

// ClearWorkingSet drops the user's in-memory tier. Persistent chunks and
// other users' working sets are untouched.
func (s *RAGService) ClearWorkingSet(userID uint) {
	s.storeFor(userID).Clear()
}

// MetricsSnapshot returns the live counters, preferring the in-process view.
func (s *RAGService) MetricsSnapshot() rag.Snapshot {
	return s.deps.Metrics.Snapshot()
}
