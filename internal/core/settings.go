package core

import (
	"fmt"
	"slices"

	"github.com/tattoostencil/studio/internal/store"
)

type GenerationSettings = store.GenerationSettings

var (
	Styles       = []string{"traditional", "neo-traditional", "realistic", "blackwork", "geometric"}
	LineWeights  = []string{"fine", "medium", "bold", "variable"}
	AspectRatios = []string{"1:1", "4:3", "16:9", "9:16"}
)

const (
	DefaultStyle         = "traditional"
	DefaultLineWeight    = "medium"
	DefaultGuidanceScale = 7.5
	DefaultSteps         = 30
	DefaultAspectRatio   = "4:3"

	MinGuidanceScale = 1.0
	MaxGuidanceScale = 20.0
	MinSteps         = 10
	MaxSteps         = 50
)

// SettingsInput is the client-supplied configuration; nil fields take defaults.
type SettingsInput struct {
	Style         *string  `json:"style,omitempty"`
	LineWeight    *string  `json:"lineWeight,omitempty"`
	GuidanceScale *float64 `json:"guidanceScale,omitempty"`
	Steps         *int     `json:"steps,omitempty"`
	AspectRatio   *string  `json:"aspectRatio,omitempty"`
}

// Resolve applies defaults and rejects values outside the recognized ranges.
func (in SettingsInput) Resolve() (GenerationSettings, error) {
	out := GenerationSettings{
		Style:         DefaultStyle,
		LineWeight:    DefaultLineWeight,
		GuidanceScale: DefaultGuidanceScale,
		Steps:         DefaultSteps,
		AspectRatio:   DefaultAspectRatio,
	}

	if in.Style != nil {
		if !slices.Contains(Styles, *in.Style) {
			return out, fmt.Errorf("%w: unknown style %q", ErrInvalidInput, *in.Style)
		}
		out.Style = *in.Style
	}
	if in.LineWeight != nil {
		if !slices.Contains(LineWeights, *in.LineWeight) {
			return out, fmt.Errorf("%w: unknown line weight %q", ErrInvalidInput, *in.LineWeight)
		}
		out.LineWeight = *in.LineWeight
	}
	if in.GuidanceScale != nil {
		g := *in.GuidanceScale
		if g < MinGuidanceScale || g > MaxGuidanceScale {
			return out, fmt.Errorf("%w: guidance scale must be between %g and %g", ErrInvalidInput, MinGuidanceScale, MaxGuidanceScale)
		}
		out.GuidanceScale = g
	}
	if in.Steps != nil {
		if *in.Steps < MinSteps || *in.Steps > MaxSteps {
			return out, fmt.Errorf("%w: steps must be between %d and %d", ErrInvalidInput, MinSteps, MaxSteps)
		}
		out.Steps = *in.Steps
	}
	if in.AspectRatio != nil {
		if !slices.Contains(AspectRatios, *in.AspectRatio) {
			return out, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidInput, *in.AspectRatio)
		}
		out.AspectRatio = *in.AspectRatio
	}
	return out, nil
}
