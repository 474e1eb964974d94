package aitools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// ReportSection is a selectable part of a collection report.
type ReportSection struct {
	Key    string
	Phrase string
}

// ReportSections lists the sections in prompt order.
var ReportSections = []ReportSection{
	{"summary", "comprehensive summary of the collection"},
	{"trends", "temporal and spatial trends"},
	{"rare_items", "identification of rare or unique items"},
	{"stylistic_evolution", "stylistic evolution analysis"},
	{"location_analysis", "geographic distribution patterns"},
	{"type_distribution", "artifact type distribution analysis"},
	{"review_status", "review status and quality assessment"},
}

// sampleSize is how many recent artifacts are quoted in a report prompt.
const sampleSize = 10

// CollectionStats are the figures a report prompt is grounded on.
type CollectionStats struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	Locations   int            `json:"locations"`
	Reviewed    int            `json:"reviewed"`
	Pending     int            `json:"pending"`
	Interesting int            `json:"interesting"`
}

// ComputeStats summarizes artifacts. Locations counts distinct coordinates
// rounded to two decimals.
func ComputeStats(artifacts []model.Artifact) CollectionStats {
	st := CollectionStats{Total: len(artifacts), ByType: make(map[string]int)}
	places := make(map[string]struct{})
	for _, a := range artifacts {
		st.ByType[a.Type()]++
		if a.HasLocation() {
			places[fmt.Sprintf("%.2f,%.2f", *a.LocationLat, *a.LocationLng)] = struct{}{}
		}
		if a.AdminReviewed {
			st.Reviewed++
		} else {
			st.Pending++
		}
		if a.IsInteresting {
			st.Interesting++
		}
	}
	st.Locations = len(places)
	return st
}

// Reporter writes collection reports.
type Reporter struct {
	gw     gateway.Gateway
	now    func() time.Time
	logger *logger.Logger
}

// NewReporter creates a reporter.
func NewReporter(gw gateway.Gateway, log *logger.Logger) *Reporter {
	return &Reporter{gw: gw, now: time.Now, logger: log}
}

// SelectedSections resolves the requested section keys in report order.
func SelectedSections(req map[string]bool) ([]ReportSection, error) {
	known := make(map[string]bool, len(ReportSections))
	for _, s := range ReportSections {
		known[s.Key] = true
	}
	for k := range req {
		if !known[k] {
			return nil, invalid("sections", "unknown section %q", k)
		}
	}
	var out []ReportSection
	for _, s := range ReportSections {
		if req[s.Key] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, invalid("sections", "select at least one report section")
	}
	return out, nil
}

// Generate reports on artifacts, which are expected newest first.
func (r *Reporter) Generate(ctx context.Context, artifacts []model.Artifact, req *model.ReportRequest, settings model.AISettings) (*model.Report, error) {
	sections, err := SelectedSections(req.Sections)
	if err != nil {
		return nil, err
	}

	prompt, err := reportPrompt(artifacts, sections)
	if err != nil {
		return nil, err
	}
	text, err := gateway.InvokeText(ctx, r.gw, gateway.AIRequest{Prompt: WithSettings(prompt, settings)})
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	rep := &model.Report{
		ID:            uuid.NewString(),
		Content:       text,
		Options:       make(map[string]bool, len(ReportSections)),
		ArtifactCount: len(artifacts),
		CreatedAt:     r.now().UTC(),
	}
	for _, s := range ReportSections {
		rep.Options[s.Key] = req.Sections[s.Key]
	}
	for _, s := range sections {
		rep.Sections = append(rep.Sections, s.Phrase)
	}
	r.logger.Info("report generated", zap.Int("artifacts", len(artifacts)), zap.Int("sections", len(sections)))
	return rep, nil
}

type sampleRow struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Type          string    `json:"type"`
	Date          time.Time `json:"date"`
	IsInteresting bool      `json:"is_interesting"`
	Notes         string    `json:"notes"`
}

func reportPrompt(artifacts []model.Artifact, sections []ReportSection) (string, error) {
	st := ComputeStats(artifacts)
	types, err := json.Marshal(st.ByType)
	if err != nil {
		return "", fmt.Errorf("failed to encode stats: %w", err)
	}

	n := min(len(artifacts), sampleSize)
	sample := make([]sampleRow, 0, n)
	for _, a := range artifacts[:n] {
		sample = append(sample, sampleRow{
			ID:            a.ID,
			Code:          a.ArtifactCode,
			Type:          a.ArtifactType,
			Date:          a.CreatedDate,
			IsInteresting: a.IsInteresting,
			Notes:         orDefault(a.UserNotes, a.AdminNotes),
		})
	}
	sampleJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a senior archaeological curator preparing a comprehensive report. Generate a detailed professional report on this artifact collection:\n\n")
	b.WriteString("**Collection Statistics:**\n")
	fmt.Fprintf(&b, "- Total Artifacts: %d\n", st.Total)
	fmt.Fprintf(&b, "- Types: %s\n", types)
	fmt.Fprintf(&b, "- Locations: %d distinct locations\n", st.Locations)
	fmt.Fprintf(&b, "- Review Status: %d reviewed, %d pending\n", st.Reviewed, st.Pending)
	fmt.Fprintf(&b, "- Interesting Finds: %d\n\n", st.Interesting)
	fmt.Fprintf(&b, "**Recent Artifacts Sample (last %d):**\n%s\n\n", sampleSize, sampleJSON)
	b.WriteString("**Report Sections Requested:**\n")
	for i, s := range sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Phrase)
	}
	b.WriteString("\n" + formatting + "\n\n")
	fmt.Fprintf(&b, "Generate a formal archaeological report with clear sections. Reference specific artifacts using %s format for clickable links. Use the artifact IDs from the sample data above.\n\n", ArtifactRef("{id}"))
	b.WriteString(`Structure with:
- **Executive Summary** at the top
- Detailed findings for each requested section using dashed lists
- Key insights and patterns
- **Recommendations** for future research
- Statistical insights (describe what charts would be appropriate)

Use professional archaeological language and cite specific artifacts by their IDs.`)
	return b.String(), nil
}
