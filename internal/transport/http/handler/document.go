package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/app"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/pkg/pdfextract"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/transport/http/response"
)

const maxPDFSize = 20 << 20 // 20 MB

type DocumentHandler struct {
	ragService *app.RAGService
}

func NewDocumentHandler(ragService *app.RAGService) *DocumentHandler {
	return &DocumentHandler{ragService: ragService}
}

type CreateDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
	Async   bool   `json:"async"`
}

// Create ingests raw text as a document.
func (h *DocumentHandler) Create(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Catatan"
	}

	input := app.IngestInput{
		UserID:    userID,
		Title:     title,
		Content:   req.Content,
		SizeBytes: int64(len(req.Content)),
	}

	if req.Async {
		doc, jobID, err := h.ragService.IngestAsync(c.Request.Context(), input)
		if err != nil {
			h.ingestError(c, err)
			return
		}
		response.OK(c, gin.H{"document": doc, "job_id": jobID})
		return
	}

	report, err := h.ragService.Ingest(c.Request.Context(), input)
	if err != nil {
		h.ingestError(c, err)
		return
	}
	response.OK(c, report)
}

// UploadPDF accepts a multipart form with one or more "file" parts (PDF),
// extracts text per file, and ingests each independently.
func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}

	inputs := make([]app.IngestInput, 0, len(files))
	failed := make([]app.FailedFile, 0)
	for _, file := range files {
		if file.Size > maxPDFSize {
			failed = append(failed, app.FailedFile{Title: file.Filename, Reason: "file too large (max 20MB)"})
			continue
		}
		if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
			failed = append(failed, app.FailedFile{Title: file.Filename, Reason: "only PDF files are allowed"})
			continue
		}

		f, openErr := file.Open()
		if openErr != nil {
			failed = append(failed, app.FailedFile{Title: file.Filename, Reason: "failed to read file"})
			continue
		}
		extracted, extractErr := pdfextract.Extract(f)
		_ = f.Close()
		if extractErr != nil {
			failed = append(failed, app.FailedFile{Title: file.Filename, Reason: "failed to extract text: " + extractErr.Error()})
			continue
		}
		if strings.TrimSpace(extracted.Text) == "" {
			failed = append(failed, app.FailedFile{Title: file.Filename, Reason: "PDF contains no extractable text"})
			continue
		}

		title := strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
		if title == "" {
			title = "Untitled"
		}
		inputs = append(inputs, app.IngestInput{
			Title:     title,
			Content:   extracted.Text,
			PageCount: extracted.PageCount,
			SizeBytes: file.Size,
		})
	}

	if len(inputs) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no processable files: "+failReasons(failed))
		return
	}

	report, err := h.ragService.IngestFiles(c.Request.Context(), userID, inputs)
	if err != nil && report == nil {
		h.ingestError(c, err)
		return
	}
	report.Requested += len(failed)
	report.Failed = append(report.Failed, failed...)
	response.OK(c, report)
}

func failReasons(failed []app.FailedFile) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, f.Title+" ("+f.Reason+")")
	}
	return strings.Join(parts, ", ")
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docs, err := h.ragService.ListDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	if err := h.ragService.DeleteDocument(c.Request.Context(), userID, docID); err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func (h *DocumentHandler) ingestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
	}
}
