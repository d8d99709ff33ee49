package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/metrics"
	"github.com/tattoostencil/studio/internal/store"
)

// ChatStreamer produces a streamed assistant reply for a conversation.
type ChatStreamer interface {
	StreamChat(ctx context.Context, turns []ChatTurn, attachment *ImageAttachment, onDelta func(string) error) (string, error)
}

// PromptAssistant covers the blocking model calls: prompt enhancement and
// image analysis.
type PromptAssistant interface {
	EnhancePrompt(ctx context.Context, prompt string) (string, error)
	AnalyzeImage(ctx context.Context, image ImageAttachment, prompt string) (string, error)
}

type ChatService struct {
	dbStore   *store.SQLiteStore
	uploads   *UploadService
	streamer  ChatStreamer
	assistant PromptAssistant
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewChatService wires the relay. streamer and assistant may be nil when the
// corresponding provider is not configured.
func NewChatService(db *store.SQLiteStore, uploads *UploadService, streamer ChatStreamer, assistant PromptAssistant, m *metrics.Metrics, logger *zap.Logger) *ChatService {
	return &ChatService{
		dbStore:   db,
		uploads:   uploads,
		streamer:  streamer,
		assistant: assistant,
		metrics:   m,
		logger:    logger,
	}
}

// Enabled reports whether a chat model is configured.
func (s *ChatService) Enabled() bool {
	return s.streamer != nil
}

// StreamReply stores the user's message, relays the model reply through
// onDelta and stores the full reply once the stream ends cleanly. A reply cut
// short by an upstream failure or a cancelled context is not stored.
func (s *ChatService) StreamReply(ctx context.Context, userID, message string, imageID *string, onDelta func(string) error) (*store.ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: AI chat service requires OpenAI API key configuration", ErrServiceUnavailable)
	}

	var attachment *ImageAttachment
	if imageID != nil {
		_, att, err := s.uploads.Read(ctx, userID, *imageID)
		if err != nil {
			return nil, err
		}
		attachment = att
	}

	userMsg := &store.ChatMessage{UserID: userID, ImageID: imageID, Role: store.RoleUser, Content: message}
	if err := s.dbStore.CreateChatMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := s.dbStore.GetUserChatMessages(ctx, userID, imageID)
	if err != nil {
		return nil, err
	}
	turns := make([]ChatTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, ChatTurn{Role: m.Role, Content: m.Content})
	}

	reply, err := s.streamer.StreamChat(ctx, turns, attachment, onDelta)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.metrics.ObserveChatStream("canceled")
			s.logger.Info("Chat stream aborted by client", zap.String("user_id", userID), zap.Int("partial_len", len(reply)))
			return nil, ctxErr
		}
		s.metrics.ObserveChatStream("error")
		s.logger.Error("Chat stream failed", zap.String("user_id", userID), zap.Int("partial_len", len(reply)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	s.metrics.ObserveChatStream("success")

	if reply == "" {
		return nil, nil
	}
	assistantMsg := &store.ChatMessage{UserID: userID, ImageID: imageID, Role: store.RoleAssistant, Content: reply}
	if err := s.dbStore.CreateChatMessage(ctx, assistantMsg); err != nil {
		// The reply already reached the client.
		s.logger.Error("Failed to store assistant reply", zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return assistantMsg, nil
}

func (s *ChatService) History(ctx context.Context, userID string, imageID *string) ([]store.ChatMessage, error) {
	return s.dbStore.GetUserChatMessages(ctx, userID, imageID)
}

func (s *ChatService) Clear(ctx context.Context, userID string, imageID *string) (int64, error) {
	n, err := s.dbStore.ClearUserChat(ctx, userID, imageID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Cleared chat history", zap.String("user_id", userID), zap.Int64("messages", n))
	return n, nil
}

// AnalyzeImage asks the assistant for tattoo advice on an uploaded image.
func (s *ChatService) AnalyzeImage(ctx context.Context, userID, imageID, prompt string) (string, error) {
	if imageID == "" {
		return "", fmt.Errorf("%w: image ID is required", ErrInvalidInput)
	}
	if s.assistant == nil {
		return "", fmt.Errorf("%w: image analysis requires an AI provider", ErrServiceUnavailable)
	}

	_, att, err := s.uploads.Read(ctx, userID, imageID)
	if err != nil {
		return "", err
	}

	analysis, err := s.assistant.AnalyzeImage(ctx, *att, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		s.logger.Error("Image analysis failed", zap.String("image_id", imageID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return analysis, nil
}
