package aitools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// Cataloger classifies artifacts from their photo and metadata.
type Cataloger struct {
	gw     gateway.Gateway
	schema map[string]any
	logger *logger.Logger
}

// NewCataloger creates a cataloger.
func NewCataloger(gw gateway.Gateway, log *logger.Logger) *Cataloger {
	return &Cataloger{
		gw:     gw,
		schema: GenerateSchema[model.CatalogResult](),
		logger: log,
	}
}

// Schema returns the response schema sent with every request.
func (c *Cataloger) Schema() map[string]any {
	return c.schema
}

// Catalog asks the model to classify a. The photo is attached to the
// request.
func (c *Cataloger) Catalog(ctx context.Context, a *model.Artifact, settings model.AISettings) (*model.CatalogResult, error) {
	if a.PhotoURL == "" {
		return nil, invalid("photo_url", "artifact has no photo to analyze")
	}

	raw, err := c.gw.InvokeAI(ctx, gateway.AIRequest{
		Prompt:             WithSettings(catalogPrompt(a), settings),
		FileURLs:           []string{a.PhotoURL},
		ResponseJSONSchema: c.schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to catalog artifact: %w", err)
	}

	var res model.CatalogResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := c.validate(&res); err != nil {
		c.logger.Warn("rejected catalog result", zap.String("artifact_id", a.ID), zap.Error(err))
		return nil, err
	}
	return &res, nil
}

func (c *Cataloger) validate(r *model.CatalogResult) error {
	for field, v := range map[string]string{
		"artifact_type":   r.ArtifactType,
		"functional_type": r.FunctionalType,
		"time_period":     r.TimePeriod,
	} {
		if err := checkEnum(c.schema, field, v); err != nil {
			return err
		}
	}
	cs := r.ConfidenceScores
	for _, v := range []float64{cs.ArtifactType, cs.FunctionalType, cs.TimePeriod, cs.Material, cs.Overall} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: confidence %v out of range", ErrInvalidOutput, v)
		}
	}
	return nil
}

// CatalogPatch is the update applied to an artifact from a catalog result.
// Classification fields are always set; material, country and estimated
// date only fill gaps left by the submitter.
func CatalogPatch(a *model.Artifact, r *model.CatalogResult) map[string]any {
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}
	patch := map[string]any{
		"artifact_type":   pick(r.ArtifactType, a.ArtifactType),
		"functional_type": pick(r.FunctionalType, a.FunctionalType),
		"time_period":     pick(r.TimePeriod, a.TimePeriod),
	}
	if a.Material == "" && r.Material != "" {
		patch["material"] = r.Material
	}
	if a.Country == "" && r.Country != "" {
		patch["country"] = r.Country
	}
	if a.EstimatedDate == "" && r.EstimatedDate != "" {
		patch["estimated_date"] = r.EstimatedDate
	}
	return patch
}

// Apply writes the catalog result to the artifact.
func (c *Cataloger) Apply(ctx context.Context, a *model.Artifact, r *model.CatalogResult) (*model.Artifact, error) {
	out, err := gateway.UpdateAs[model.Artifact](ctx, c.gw, model.EntityArtifact, a.ID, CatalogPatch(a, r))
	if err != nil {
		return nil, fmt.Errorf("failed to apply catalog result: %w", err)
	}
	c.logger.Info("artifact cataloged",
		zap.String("artifact_id", a.ID),
		zap.String("artifact_type", out.ArtifactType),
		zap.Float64("confidence", r.ConfidenceScores.Overall),
	)
	return out, nil
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}

func catalogPrompt(a *model.Artifact) string {
	location := "Not provided"
	if a.HasLocation() {
		location = fmt.Sprintf("%v, %v", *a.LocationLat, *a.LocationLng)
	}

	var b strings.Builder
	b.WriteString("You are an expert archaeological AI cataloger. Analyze this artifact and provide structured data.\n\n")
	b.WriteString("**Current Artifact Data:**\n")
	fmt.Fprintf(&b, "- Photo: %s\n", a.PhotoURL)
	fmt.Fprintf(&b, "- User Notes: %s\n", orDefault(a.UserNotes, "None"))
	fmt.Fprintf(&b, "- Material: %s\n", orDefault(a.Material, "Not provided"))
	fmt.Fprintf(&b, "- Country: %s\n", orDefault(a.Country, "Not provided"))
	fmt.Fprintf(&b, "- Functional Type: %s\n", orDefault(a.FunctionalType, "unknown"))
	fmt.Fprintf(&b, "- Time Period: %s\n", orDefault(a.TimePeriod, "unknown"))
	fmt.Fprintf(&b, "- Estimated Date: %s\n", orDefault(a.EstimatedDate, "Not provided"))
	fmt.Fprintf(&b, "- Location: %s\n\n", location)
	b.WriteString(`**Your Task:**
1. Analyze the artifact image carefully
2. Based on visual analysis and provided metadata, determine the material, artifact type, functional classification, time period, estimated date or date range and country or region of origin
3. Provide confidence scores (0-100) for each classification
4. Identify if this might be a duplicate of other artifacts in the database

Return ONLY a JSON object matching the response schema.`)
	return b.String()
}
