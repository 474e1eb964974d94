// Package aitools builds the AI-assisted features on top of the gateway's
// LLM integration: cataloging, comparisons, collection reports and
// analysis conversations.
package aitools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
)

// ErrInvalidOutput is returned when the model's answer does not fit the
// requested structure.
var ErrInvalidOutput = errors.New("invalid AI output")

// ArtifactRef is how generated text links back to an artifact.
func ArtifactRef(id string) string {
	return fmt.Sprintf("[ARTIFACT_ID: %s]", id)
}

const formatting = "IMPORTANT: Format your response using dashed bullet points (- ) and **bold headers** instead of hashtags."

var depthGuidance = map[string]string{
	"brief":      "Keep the analysis brief: a few key points per section.",
	"standard":   "Give a balanced analysis of moderate length.",
	"detailed":   "Give a detailed analysis with supporting observations.",
	"exhaustive": "Be exhaustive and cover every aspect you can support from the data.",
}

// WithSettings appends the user's analysis depth and custom instructions
// to prompt.
func WithSettings(prompt string, s model.AISettings) string {
	var b strings.Builder
	b.WriteString(prompt)
	if g, ok := depthGuidance[s.AnalysisDepth]; ok {
		b.WriteString("\n\n")
		b.WriteString(g)
	}
	if ci := strings.TrimSpace(s.CustomInstructions); ci != "" {
		b.WriteString("\n\nAdditional instructions from the user:\n")
		b.WriteString(ci)
	}
	return b.String()
}

func invalid(field, format string, args ...any) error {
	return &service.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
