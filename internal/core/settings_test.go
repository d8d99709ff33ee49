package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestResolveDefaults(t *testing.T) {
	got, err := SettingsInput{}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, GenerationSettings{
		Style:         "traditional",
		LineWeight:    "medium",
		GuidanceScale: 7.5,
		Steps:         30,
		AspectRatio:   "4:3",
	}, got)
}

func TestResolveOverrides(t *testing.T) {
	got, err := SettingsInput{
		Style:         ptr("blackwork"),
		LineWeight:    ptr("bold"),
		GuidanceScale: ptr(12.0),
		Steps:         ptr(50),
		AspectRatio:   ptr("9:16"),
	}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "blackwork", got.Style)
	assert.Equal(t, "bold", got.LineWeight)
	assert.Equal(t, 12.0, got.GuidanceScale)
	assert.Equal(t, 50, got.Steps)
	assert.Equal(t, "9:16", got.AspectRatio)
}

func TestResolveRejectsOutOfRange(t *testing.T) {
	cases := map[string]SettingsInput{
		"style":         {Style: ptr("watercolor")},
		"line weight":   {LineWeight: ptr("hairline")},
		"guidance low":  {GuidanceScale: ptr(0.5)},
		"guidance high": {GuidanceScale: ptr(20.5)},
		"steps low":     {Steps: ptr(9)},
		"steps high":    {Steps: ptr(51)},
		"aspect ratio":  {AspectRatio: ptr("3:2")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := in.Resolve()
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestStencilPrompt(t *testing.T) {
	p := stencilPrompt("a koi fish", GenerationSettings{Style: "geometric", LineWeight: "fine"})
	assert.True(t, strings.HasPrefix(p, "Professional tattoo stencil design, a koi fish, black and white line art, bold clean lines"))
	assert.Contains(t, p, "geometric tattoo style")
	assert.Contains(t, p, "fine line weight")
}
