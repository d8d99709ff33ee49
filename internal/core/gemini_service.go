package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultGeminiModelName = "gemini-1.5-flash-latest"

// GeminiService is the fallback assistant for prompt enhancement and image
// analysis when no OpenAI key is configured. It does not stream.
type GeminiService struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiService(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiService{client: client, logger: logger}, nil
}

func (s *GeminiService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Error closing genai client", zap.Error(err))
	}
}

func (s *GeminiService) model(instruction string, maxTokens int32) *genai.GenerativeModel {
	model := s.client.GenerativeModel(defaultGeminiModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}
	temp := defaultTemperature
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}
	return model
}

func (s *GeminiService) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	resp, err := s.model(promptSystemInstruction, enhancementMaxTokens).
		GenerateContent(ctx, genai.Text(enhancementRequest(prompt)))
	if err != nil {
		return "", fmt.Errorf("gemini prompt request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return prompt, nil
	}
	return text, nil
}

func (s *GeminiService) AnalyzeImage(ctx context.Context, image ImageAttachment, prompt string) (string, error) {
	resp, err := s.model(analysisSystemInstruction, analysisMaxTokens).
		GenerateContent(ctx, genai.Text(analysisRequest(prompt)), genai.ImageData(imageFormat(image.MimeType), image.Data))
	if err != nil {
		return "", fmt.Errorf("gemini analysis request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return emptyAnalysisReply, nil
	}
	return text, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// imageFormat turns "image/png" into the "png" genai.ImageData expects.
func imageFormat(mimeType string) string {
	_, format, found := strings.Cut(mimeType, "/")
	if !found || format == "" {
		return "jpeg"
	}
	return format
}
