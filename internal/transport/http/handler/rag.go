package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/app"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/transport/http/response"
)

type RAGHandler struct {
	ragService          *app.RAGService
	conversationService *app.ConversationService
}

func NewRAGHandler(ragService *app.RAGService, conversationService *app.ConversationService) *RAGHandler {
	return &RAGHandler{ragService: ragService, conversationService: conversationService}
}

type AskRequest struct {
	Question       string `json:"question" binding:"required"`
	ConversationID uint   `json:"conversation_id"`
	Style          string `json:"style" binding:"omitempty,oneof=precise creative balanced"`
	ShowThinking   bool   `json:"show_thinking"`
}

type UpdateContextRequest struct {
	DocumentIDs []uint `json:"document_ids" binding:"required,min=1"`
}

func (h *RAGHandler) Ask(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ask(c.Request.Context(), app.AskInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
		Style:          req.Style,
		ShowThinking:   req.ShowThinking,
	}, h.conversationService)
	if err != nil {
		h.askError(c, err)
		return
	}

	h.recordExchange(c, userID, req.ConversationID, req.Question, result.Answer)
	response.OK(c, result)
}

// AskStream answers over SSE: answer deltas as data events, then a final done
// event carrying the full result.
func (h *RAGHandler) AskStream(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	result, err := h.ragService.AskStream(c.Request.Context(), app.AskInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
		Style:          req.Style,
		ShowThinking:   req.ShowThinking,
	}, h.conversationService, func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if _, writeErr := c.Writer.Write([]byte(fmt.Sprintf("event: error\ndata: %s\n\n", sanitizeSSE(err.Error())))); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	h.recordExchange(c, userID, req.ConversationID, req.Question, result.Answer)

	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(result.Answer) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (h *RAGHandler) recordExchange(c *gin.Context, userID, conversationID uint, question, answer string) {
	if conversationID == 0 || h.conversationService == nil {
		return
	}
	// The answer already went out; a failed history write must not undo it.
	_ = h.conversationService.RecordExchange(c.Request.Context(), userID, conversationID, question, answer)
}

func (h *RAGHandler) UpdateContext(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req UpdateContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.ragService.UpdateContext(c.Request.Context(), userID, req.DocumentIDs)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update context failed")
		}
		return
	}
	response.OK(c, session)
}

func (h *RAGHandler) ListSessions(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessions, err := h.ragService.Sessions(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *RAGHandler) ClearMemory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	h.ragService.ClearWorkingSet(userID)
	response.OK(c, gin.H{"cleared": true})
}

func (h *RAGHandler) Metrics(c *gin.Context) {
	if _, ok := getUserIDFromContext(c); !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	response.OK(c, h.ragService.MetricsSnapshot())
}

func (h *RAGHandler) askError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNoDocuments):
		response.Error(c, http.StatusBadRequest, response.CodeNoDocuments, err.Error())
	case errors.Is(err, app.ErrNoRelevantChunks):
		response.Error(c, http.StatusBadRequest, response.CodeNoRelevantContent, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask failed")
	}
}
