package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REPLICATE_API_TOKEN", "r8_token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "tattoo_studio.db", cfg.DatabaseURL)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, 1.0, cfg.RateLimitRPS)
	assert.Equal(t, 5, cfg.RateLimitBurst)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REPLICATE_API_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "REPLICATE_API_TOKEN")
}

func TestPublicBaseURLTrailingSlash(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REPLICATE_API_TOKEN", "r8_token")
	t.Setenv("PUBLIC_BASE_URL", "https://stencils.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://stencils.example.com", cfg.PublicBaseURL)
}

func TestChatEnabled(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"missing", "", false},
		{"replicate token in openai slot", "r8_abc123", false},
		{"openai key", "sk-abc123", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OpenAIAPIKey: tt.key}
			assert.Equal(t, tt.want, cfg.ChatEnabled())
		})
	}
}

func TestPaymentsEnabledNeedsBothSecrets(t *testing.T) {
	assert.False(t, (&Config{StripeSecretKey: "sk_test"}).PaymentsEnabled())
	assert.False(t, (&Config{StripeWebhookSecret: "whsec"}).PaymentsEnabled())
	assert.True(t, (&Config{StripeSecretKey: "sk_test", StripeWebhookSecret: "whsec"}).PaymentsEnabled())
}
