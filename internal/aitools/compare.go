package aitools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	MinCompare = 2
	MaxCompare = 5
)

// Comparator produces side-by-side analyses of a handful of artifacts.
type Comparator struct {
	gw     gateway.Gateway
	now    func() time.Time
	logger *logger.Logger
}

// NewComparator creates a comparator.
func NewComparator(gw gateway.Gateway, log *logger.Logger) *Comparator {
	return &Comparator{gw: gw, now: time.Now, logger: log}
}

type comparedDetail struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	Type          string       `json:"type"`
	UserNotes     string       `json:"user_notes"`
	AdminNotes    string       `json:"admin_notes"`
	Location      *comparedLoc `json:"location"`
	IsInteresting bool         `json:"is_interesting"`
}

type comparedLoc struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Compare analyzes between MinCompare and MaxCompare artifacts.
func (c *Comparator) Compare(ctx context.Context, artifacts []model.Artifact, settings model.AISettings) (*model.Comparison, error) {
	if n := len(artifacts); n < MinCompare || n > MaxCompare {
		return nil, invalid("artifact_ids", "select between %d and %d artifacts, got %d", MinCompare, MaxCompare, n)
	}

	prompt, err := comparePrompt(artifacts)
	if err != nil {
		return nil, err
	}
	text, err := gateway.InvokeText(ctx, c.gw, gateway.AIRequest{Prompt: WithSettings(prompt, settings)})
	if err != nil {
		return nil, fmt.Errorf("failed to compare artifacts: %w", err)
	}

	cmp := &model.Comparison{
		ID:        uuid.NewString(),
		Content:   text,
		CreatedAt: c.now().UTC(),
	}
	for _, a := range artifacts {
		cmp.ArtifactIDs = append(cmp.ArtifactIDs, a.ID)
		cmp.ArtifactCodes = append(cmp.ArtifactCodes, a.ArtifactCode)
	}
	c.logger.Info("artifacts compared", zap.Strings("artifact_ids", cmp.ArtifactIDs))
	return cmp, nil
}

func comparePrompt(artifacts []model.Artifact) (string, error) {
	details := make([]comparedDetail, 0, len(artifacts))
	for _, a := range artifacts {
		d := comparedDetail{
			ID:            a.ID,
			Code:          a.ArtifactCode,
			Type:          a.ArtifactType,
			UserNotes:     a.UserNotes,
			AdminNotes:    a.AdminNotes,
			IsInteresting: a.IsInteresting,
		}
		if a.HasLocation() {
			d.Location = &comparedLoc{Lat: *a.LocationLat, Lng: *a.LocationLng}
		}
		details = append(details, d)
	}
	b, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifacts: %w", err)
	}

	return fmt.Sprintf(`You are an expert archaeologist. Compare these %d artifacts in detail:

%s

Provide a comprehensive comparison analysis. %s

Structure your analysis as follows:

**Similarities**
- Shared materials, features, manufacturing techniques or stylistic elements

**Differences**
- Variations in size, condition, provenance, context or typology

**Relationships**
- Whether they share a period or culture, related purposes, and what their spatial distribution suggests

**Significance**
- What the comparison reveals about the collection and any unexpected patterns

**Recommendations**
- Display, further research and conservation considerations

Reference artifacts using %s format for clickable links.`, len(artifacts), b, formatting, ArtifactRef("{id}")), nil
}
