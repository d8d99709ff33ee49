package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/replicate/replicate-go"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/metrics"
	"github.com/tattoostencil/studio/internal/store"
)

const (
	StencilModelName = "black-forest-labs/flux-kontext-pro"
	GenerationCost   = 5
	MaxPromptLength  = 1000

	referencePromptStrength = 0.7
	outputQuality           = 90
)

// StencilModel runs the hosted image model and returns its raw output.
type StencilModel interface {
	Run(ctx context.Context, input map[string]any) (any, error)
}

type replicateModel struct {
	client     *replicate.Client
	identifier string
}

func NewReplicateModel(token string) (StencilModel, error) {
	client, err := replicate.NewClient(replicate.WithToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to create replicate client: %w", err)
	}
	return &replicateModel{client: client, identifier: StencilModelName}, nil
}

func (m *replicateModel) Run(ctx context.Context, input map[string]any) (any, error) {
	out, err := m.client.Run(ctx, m.identifier, replicate.PredictionInput(input), nil)
	if err != nil {
		return nil, err
	}
	return any(out), nil
}

// RetryConfig bounds the attempts made against the image model.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

type GenerateInput struct {
	UserID   string
	Prompt   string
	ImageID  *string
	Settings SettingsInput
	// BaseURL turns the stored /uploads path into an address the model can fetch.
	BaseURL string
}

type GenerateResult struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	Prompt           string `json:"prompt"`
	CreditsUsed      int    `json:"creditsUsed"`
	CreditsRemaining int    `json:"creditsRemaining"`
}

type GenerationService struct {
	dbStore   *store.SQLiteStore
	uploads   *UploadService
	model     StencilModel
	assistant PromptAssistant
	retry     RetryConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewGenerationService wires the invoker. assistant may be nil, in which case
// prompts are sent without enhancement.
func NewGenerationService(db *store.SQLiteStore, uploads *UploadService, model StencilModel, assistant PromptAssistant, retry RetryConfig, m *metrics.Metrics, logger *zap.Logger) *GenerationService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &GenerationService{
		dbStore:   db,
		uploads:   uploads,
		model:     model,
		assistant: assistant,
		retry:     retry,
		metrics:   m,
		logger:    logger,
	}
}

// Generate produces one stencil and charges for it. The balance is checked
// before any model call; the charge and the edit record are written together
// only after the model succeeded.
func (s *GenerationService) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt must be at most %d characters", ErrInvalidInput, MaxPromptLength)
	}
	settings, err := in.Settings.Resolve()
	if err != nil {
		return nil, err
	}

	user, err := s.dbStore.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user.Credits < GenerationCost {
		s.metrics.ObserveGeneration("insufficient_credits", 0)
		return nil, ErrInsufficientCredits
	}

	var referenceURL string
	if in.ImageID != nil {
		img, err := s.uploads.Get(ctx, in.UserID, *in.ImageID)
		if err != nil {
			return nil, err
		}
		referenceURL = strings.TrimRight(in.BaseURL, "/") + img.URL
	}

	enhanced := s.enhance(ctx, prompt)
	input := map[string]any{
		"prompt":              stencilPrompt(enhanced, settings),
		"guidance_scale":      settings.GuidanceScale,
		"num_inference_steps": settings.Steps,
		"aspect_ratio":        settings.AspectRatio,
		"output_format":       "png",
		"output_quality":      outputQuality,
	}
	if referenceURL != "" {
		input["image"] = referenceURL
		input["prompt_strength"] = referencePromptStrength
	}

	start := time.Now()
	resultURL, err := s.run(ctx, input)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveGeneration("error", elapsed)
		return nil, err
	}

	edit := &store.Edit{
		BaseImageID: in.ImageID,
		ResultURL:   resultURL,
		Prompt:      prompt,
		AIPrompt:    enhanced,
		Settings:    settings,
	}
	remaining, err := s.dbStore.DebitAndRecordEdit(ctx, in.UserID, GenerationCost, edit)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.metrics.ObserveGeneration("insufficient_credits", elapsed)
			s.logger.Warn("Balance spent by a concurrent generation", zap.String("user_id", in.UserID))
		} else {
			s.metrics.ObserveGeneration("error", elapsed)
		}
		return nil, err
	}
	s.metrics.ObserveGeneration("success", elapsed)

	s.logger.Info("Generated stencil",
		zap.String("user_id", in.UserID),
		zap.String("edit_id", edit.ID),
		zap.Int("credits_remaining", remaining),
		zap.Duration("elapsed", elapsed))

	return &GenerateResult{
		ID:               edit.ID,
		URL:              resultURL,
		Prompt:           enhanced,
		CreditsUsed:      GenerationCost,
		CreditsRemaining: remaining,
	}, nil
}

// List returns every generation made by the user, newest first.
func (s *GenerationService) List(ctx context.Context, userID string) ([]store.Edit, error) {
	return s.dbStore.GetUserEdits(ctx, userID)
}

// ForImage returns the generations derived from one of the user's images.
func (s *GenerationService) ForImage(ctx context.Context, userID, imageID string) ([]store.Edit, error) {
	if _, err := s.uploads.Get(ctx, userID, imageID); err != nil {
		return nil, err
	}
	return s.dbStore.GetImageEdits(ctx, imageID)
}

func (s *GenerationService) enhance(ctx context.Context, prompt string) string {
	if s.assistant == nil {
		return prompt
	}
	enhanced, err := s.assistant.EnhancePrompt(ctx, prompt)
	if err != nil {
		s.logger.Warn("Prompt enhancement failed, using the original prompt", zap.Error(err))
		return prompt
	}
	if strings.TrimSpace(enhanced) == "" {
		return prompt
	}
	return enhanced
}

func (s *GenerationService) run(ctx context.Context, input map[string]any) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		out, err := s.model.Run(ctx, input)
		if err == nil {
			return outputURL(out)
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isTransient(err) || attempt == s.retry.MaxAttempts {
			break
		}

		delay := s.retry.BaseDelay << (attempt - 1)
		s.logger.Warn("Image model call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	s.logger.Error("Image model call failed", zap.Error(lastErr))
	return "", fmt.Errorf("%w: failed to generate image: %v", ErrUpstream, lastErr)
}

// outputURL accepts a bare URL or a list whose first element is a URL.
func outputURL(out any) (string, error) {
	switch v := out.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(string); ok && first != "" {
				return first, nil
			}
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", fmt.Errorf("%w: unexpected output format from image model: %T", ErrUpstream, out)
}

func isTransient(err error) bool {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
