package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/replicate/replicate-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/metrics"
	"github.com/tattoostencil/studio/internal/store"
)

type modelReply struct {
	out any
	err error
}

type fakeModel struct {
	replies []modelReply
	inputs  []map[string]any
	before  func() // runs on every call
}

func (f *fakeModel) Run(_ context.Context, input map[string]any) (any, error) {
	f.inputs = append(f.inputs, input)
	if f.before != nil {
		f.before()
	}
	i := len(f.inputs) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i].out, f.replies[i].err
}

func newTestGeneration(t *testing.T, model StencilModel, assistant PromptAssistant) (*GenerationService, *store.SQLiteStore, *UploadService) {
	t.Helper()
	db := newTestDB(t)
	uploads := newTestUploads(t, db)
	retry := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return NewGenerationService(db, uploads, model, assistant, retry, metrics.New(), zap.NewNop()), db, uploads
}

func TestGenerateChargesAndRecords(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: []any{"https://replicate.delivery/out.png"}}}}
	assistant := &fakeAssistant{enhanced: "a coiled dragon"}
	gen, db, _ := newTestGeneration(t, model, assistant)
	ctx := context.Background()
	seedUser(t, db, "u1", 10)

	res, err := gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "dragon sleeve"})
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/out.png", res.URL)
	assert.Equal(t, "a coiled dragon", res.Prompt)
	assert.Equal(t, 5, res.CreditsUsed)
	assert.Equal(t, 5, res.CreditsRemaining)
	assert.Equal(t, "dragon sleeve", assistant.lastPrompt)

	require.Len(t, model.inputs, 1)
	input := model.inputs[0]
	assert.True(t, strings.HasPrefix(input["prompt"].(string), "Professional tattoo stencil design, a coiled dragon, "))
	assert.Contains(t, input["prompt"], "traditional tattoo style, medium line weight")
	assert.Equal(t, 7.5, input["guidance_scale"])
	assert.Equal(t, 30, input["num_inference_steps"])
	assert.Equal(t, "4:3", input["aspect_ratio"])
	assert.Equal(t, "png", input["output_format"])
	assert.Equal(t, 90, input["output_quality"])
	assert.NotContains(t, input, "image")

	edits, err := gen.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, res.ID, edits[0].ID)
	assert.Equal(t, "dragon sleeve", edits[0].Prompt)
	assert.Equal(t, "a coiled dragon", edits[0].AIPrompt)
	assert.Equal(t, 5, edits[0].CreditCost)
	assert.Nil(t, edits[0].BaseImageID)

	user, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, user.Credits)
}

func TestGenerateInsufficientCreditsSkipsModel(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: "https://x/out.png"}}}
	assistant := &fakeAssistant{}
	gen, db, _ := newTestGeneration(t, model, assistant)
	ctx := context.Background()
	seedUser(t, db, "u1", 4)

	_, err := gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "dragon sleeve"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Empty(t, model.inputs)
	assert.Zero(t, assistant.enhanceCall)

	user, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, user.Credits)
}

func TestGenerateLostRaceRecordsNothing(t *testing.T) {
	gen, db, _ := newTestGeneration(t, nil, nil)
	ctx := context.Background()
	seedUser(t, db, "u1", 5)
	gen.model = &fakeModel{
		replies: []modelReply{{out: "https://x/out.png"}},
		before: func() {
			require.NoError(t, db.UpdateUserCredits(ctx, "u1", 0))
		},
	}

	_, err := gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "koi"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	edits, err := gen.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	model := &fakeModel{replies: []modelReply{
		{err: &replicate.APIError{Status: 503}},
		{err: &replicate.APIError{Status: 429}},
		{out: "https://x/out.png"},
	}}
	gen, db, _ := newTestGeneration(t, model, nil)
	seedUser(t, db, "u1", 10)

	res, err := gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "koi"})
	require.NoError(t, err)
	assert.Len(t, model.inputs, 3)
	assert.Equal(t, "https://x/out.png", res.URL)
	assert.Equal(t, "koi", res.Prompt)
}

func TestGenerateGivesUpAfterThreeAttempts(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{err: &replicate.APIError{Status: 500}}}}
	gen, db, _ := newTestGeneration(t, model, nil)
	ctx := context.Background()
	seedUser(t, db, "u1", 10)

	_, err := gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "koi"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Len(t, model.inputs, 3)

	user, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, user.Credits)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{err: &replicate.APIError{Status: 422}}}}
	gen, db, _ := newTestGeneration(t, model, nil)
	seedUser(t, db, "u1", 10)

	_, err := gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "koi"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Len(t, model.inputs, 1)
}

func TestGenerateUnexpectedOutput(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: map[string]any{"url": "x"}}}}
	gen, db, _ := newTestGeneration(t, model, nil)
	ctx := context.Background()
	seedUser(t, db, "u1", 10)

	_, err := gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "koi"})
	assert.ErrorIs(t, err, ErrUpstream)

	edits, err := gen.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestGenerateEnhancementFailureFallsBack(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: "https://x/out.png"}}}
	gen, db, _ := newTestGeneration(t, model, &fakeAssistant{enhanceErr: errors.New("quota")})
	seedUser(t, db, "u1", 10)

	res, err := gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "koi"})
	require.NoError(t, err)
	assert.Equal(t, "koi", res.Prompt)
	assert.Contains(t, model.inputs[0]["prompt"], ", koi, ")
}

func TestGenerateWithReferenceImage(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: "https://x/out.png"}}}
	gen, db, uploads := newTestGeneration(t, model, nil)
	ctx := context.Background()
	seedUser(t, db, "u1", 10)
	seedUser(t, db, "u2", 10)

	img, err := uploads.Save(ctx, "u1", UploadInput{Data: pngBytes(t, 2, 2), OriginalName: "ref.png", MimeType: "image/png"})
	require.NoError(t, err)

	_, err = gen.Generate(ctx, GenerateInput{UserID: "u2", Prompt: "koi", ImageID: &img.ID, BaseURL: "https://studio.test"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, model.inputs)

	_, err = gen.Generate(ctx, GenerateInput{UserID: "u1", Prompt: "koi", ImageID: &img.ID, BaseURL: "https://studio.test/"})
	require.NoError(t, err)
	require.Len(t, model.inputs, 1)
	assert.Equal(t, "https://studio.test"+img.URL, model.inputs[0]["image"])
	assert.Equal(t, 0.7, model.inputs[0]["prompt_strength"])

	edits, err := gen.ForImage(ctx, "u1", img.ID)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.NotNil(t, edits[0].BaseImageID)
	assert.Equal(t, img.ID, *edits[0].BaseImageID)

	_, err = gen.ForImage(ctx, "u2", img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateValidation(t *testing.T) {
	model := &fakeModel{replies: []modelReply{{out: "https://x/out.png"}}}
	gen, db, _ := newTestGeneration(t, model, nil)
	seedUser(t, db, "u1", 10)
	ctx := context.Background()

	cases := map[string]GenerateInput{
		"empty prompt":  {UserID: "u1", Prompt: "  "},
		"long prompt":   {UserID: "u1", Prompt: strings.Repeat("a", MaxPromptLength+1)},
		"bad steps":     {UserID: "u1", Prompt: "koi", Settings: SettingsInput{Steps: ptr(5)}},
		"bad aspect":    {UserID: "u1", Prompt: "koi", Settings: SettingsInput{AspectRatio: ptr("2:1")}},
		"unknown style": {UserID: "u1", Prompt: "koi", Settings: SettingsInput{Style: ptr("anime")}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := gen.Generate(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, model.inputs)
}

func TestOutputURL(t *testing.T) {
	got, err := outputURL("https://x/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://x/a.png", got)

	got, err = outputURL([]any{"https://x/b.png", "https://x/c.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://x/b.png", got)

	for _, bad := range []any{nil, "", []any{}, []any{42}, 3.5} {
		_, err := outputURL(bad)
		assert.ErrorIs(t, err, ErrUpstream, "%v", bad)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&replicate.APIError{Status: 502}))
	assert.True(t, isTransient(&replicate.APIError{Status: 429}))
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.False(t, isTransient(&replicate.APIError{Status: 400}))
	assert.False(t, isTransient(errors.New("prediction failed")))
}
