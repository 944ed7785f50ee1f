package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEnqueue       = errors.New("message enqueue failed")
)

// AsyncMessagePublisher hands messages to the persistence worker.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// HistoryCache is the Redis-backed conversation history cache.
type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID uint) error
	MarkDirty(ctx context.Context, conversationID uint) error
	IsDirty(ctx context.Context, conversationID uint) (bool, error)
}

// ConversationService manages conversations and their message history. The
// answer flow lives in RAGService; this service supplies prior turns and
// records each question/answer exchange.
type ConversationService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	publisher        AsyncMessagePublisher
	historyCache     HistoryCache
}

func NewConversationService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		publisher:        publisher,
		historyCache:     historyCache,
	}
}

type CreateConversationInput struct {
	UserID uint
	Title  string
}

func (s *ConversationService) CreateConversation(input CreateConversationInput) (*model.Conversation, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Catatan Baru"
	}
	conversation := &model.Conversation{UserID: input.UserID, Title: title}
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ConversationService) ListConversations(userID uint) ([]model.Conversation, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.conversationRepo.ListByUserID(userID)
}

func (s *ConversationService) DeleteConversation(userID, conversationID uint) error {
	if userID == 0 || conversationID == 0 {
		return ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}
	if err := s.messageRepo.DeleteByConversationID(conversationID); err != nil {
		return err
	}
	if err := s.conversationRepo.DeleteByIDAndUserID(conversationID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), conversationID)
	}
	return nil
}

// GetHistory returns the conversation's messages, serving from the cache when
// it is warm and not dirty.
func (s *ConversationService) GetHistory(ctx context.Context, userID, conversationID uint, limit int) ([]model.Message, error) {
	if userID == 0 || conversationID == 0 {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListByConversationID(conversationID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conversationID, messages)
		}
	}
	return messages, nil
}

// HistoryTurns adapts the latest n messages into generator turns.
func (s *ConversationService) HistoryTurns(ctx context.Context, userID, conversationID uint, n int) ([]rag.Turn, error) {
	if conversationID == 0 {
		return nil, nil
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	messages, err := s.messageRepo.ListRecentByConversationID(conversationID, n)
	if err != nil {
		return nil, err
	}
	turns := make([]rag.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, rag.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// RecordExchange enqueues the question and answer for async persistence and
// invalidates the history cache.
func (s *ConversationService) RecordExchange(ctx context.Context, userID, conversationID uint, question, answer string) error {
	if userID == 0 || conversationID == 0 {
		return ErrInvalidInput
	}
	if s.publisher == nil {
		return ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, conversationID)
		_ = s.historyCache.DeleteHistory(ctx, conversationID)
	}

	now := time.Now()
	userMessage := model.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           "user",
		Content:        question,
		CreatedAt:      now,
	}
	if err := s.publisher.Publish(ctx, userMessage); err != nil {
		return ErrMessageEnqueue
	}
	assistantMessage := model.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           "assistant",
		Content:        answer,
		CreatedAt:      now,
	}
	if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
