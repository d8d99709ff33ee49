package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tattoostencil/studio/internal/store"
)

const (
	defaultChatModelName = openai.GPT4o

	chatMaxTokens        = 1000
	analysisMaxTokens    = 1000
	enhancementMaxTokens = 300
	defaultTemperature   = float32(0.7)
)

// ChatTurn is one message of the conversation sent to the model.
type ChatTurn struct {
	Role    store.Role
	Content string
}

// ImageAttachment is an uploaded image forwarded inline to a vision model.
type ImageAttachment struct {
	Data     []byte
	MimeType string
}

func (a *ImageAttachment) dataURI() string {
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// LLMService talks to an OpenAI-compatible chat completions endpoint.
type LLMService struct {
	client *openai.Client
	model  string
}

func NewLLMService(apiKey, baseURL string) *LLMService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMService{
		client: openai.NewClientWithConfig(cfg),
		model:  defaultChatModelName,
	}
}

// StreamChat sends the conversation with the tattoo-artist system prompt and
// calls onDelta for every non-empty content fragment. The attachment, if any,
// is added to the last user turn. It returns the concatenated reply.
func (s *LLMService) StreamChat(ctx context.Context, turns []ChatTurn, attachment *ImageAttachment, onDelta func(string) error) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("chat history is empty")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: chatSystemInstruction,
	})
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	if attachment != nil {
		last := &messages[len(messages)-1]
		if last.Role == openai.ChatMessageRoleUser {
			last.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: last.Content},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: attachment.dataURI()}},
			}
			last.Content = ""
		}
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   chatMaxTokens,
		Temperature: defaultTemperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("openai stream request failed: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return reply.String(), nil
		}
		if err != nil {
			return reply.String(), fmt.Errorf("openai stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return reply.String(), err
		}
	}
}

// EnhancePrompt rewrites a short user idea into a detailed stencil prompt.
// An empty answer yields the original prompt.
func (s *LLMService) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	text, err := s.complete(ctx, enhancementMaxTokens, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: promptSystemInstruction},
		{Role: openai.ChatMessageRoleUser, Content: enhancementRequest(prompt)},
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return prompt, nil
	}
	return text, nil
}

func (s *LLMService) AnalyzeImage(ctx context.Context, image ImageAttachment, prompt string) (string, error) {
	text, err := s.complete(ctx, analysisMaxTokens, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: analysisSystemInstruction},
		{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: analysisRequest(prompt)},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: image.dataURI()}},
		}},
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return emptyAnalysisReply, nil
	}
	return text, nil
}

func (s *LLMService) complete(ctx context.Context, maxTokens int, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
