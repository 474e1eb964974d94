package aitools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/llm"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	bob = "bob@dig.org"
	ann = "ann@dig.org"
)

func as(email string) context.Context {
	return gateway.WithActor(context.Background(), email)
}

func ptr(v float64) *float64 { return &v }

// aiRecorder answers InvokeAI with a fixed payload and keeps the requests.
type aiRecorder struct {
	mu     sync.Mutex
	reqs   []gateway.AIRequest
	answer any
}

func (r *aiRecorder) handle(_ context.Context, req gateway.AIRequest) (json.RawMessage, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return json.Marshal(r.answer)
}

func (r *aiRecorder) last() gateway.AIRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func newGateway(answer any) (*gateway.Memory, *aiRecorder) {
	rec := &aiRecorder{answer: answer}
	return gateway.NewMemory(gateway.WithAIHandler(rec.handle)), rec
}

func TestWithSettings(t *testing.T) {
	assert.Equal(t, "p", WithSettings("p", model.AISettings{}))

	out := WithSettings("p", model.AISettings{AnalysisDepth: "brief", CustomInstructions: "  Use metric units. "})
	assert.True(t, strings.HasPrefix(out, "p\n\n"+depthGuidance["brief"]))
	assert.True(t, strings.HasSuffix(out, "Additional instructions from the user:\nUse metric units."))
}

func TestGenerateSchema(t *testing.T) {
	s := GenerateSchema[model.CatalogResult]()
	assert.Equal(t, false, s["additionalProperties"])
	assert.NotContains(t, s, "$defs")
	assert.Contains(t, enumOf(s, "artifact_type"), "pottery")
	assert.Contains(t, enumOf(s, "time_period"), "bronze_age")
	assert.Len(t, enumOf(s, "functional_type"), 9)
	assert.Empty(t, enumOf(s, "material"))
}

func validResult() model.CatalogResult {
	return model.CatalogResult{
		ArtifactType:     "pottery",
		FunctionalType:   "vessel",
		TimePeriod:       "classical_antiquity",
		Material:         "terracotta",
		Country:          "Italy",
		EstimatedDate:    "1st century BC",
		ConfidenceScores: model.ConfidenceScores{ArtifactType: 90, FunctionalType: 80, TimePeriod: 70, Material: 85, Overall: 81},
	}
}

func TestCatalog(t *testing.T) {
	gw, rec := newGateway(validResult())
	c := NewCataloger(gw, logger.Nop())
	a := &model.Artifact{Record: model.Record{ID: "a1"}, PhotoURL: "memory://files/x/a1.jpg", UserNotes: "rim sherd", LocationLat: ptr(41.9), LocationLng: ptr(12.5)}

	res, err := c.Catalog(as(bob), a, model.AISettings{CustomInstructions: "Prefer Roman terms."})
	require.NoError(t, err)
	assert.Equal(t, "pottery", res.ArtifactType)

	req := rec.last()
	assert.Equal(t, []string{a.PhotoURL}, req.FileURLs)
	assert.Equal(t, c.Schema(), req.ResponseJSONSchema)
	assert.Contains(t, req.Prompt, "- User Notes: rim sherd")
	assert.Contains(t, req.Prompt, "- Location: 41.9, 12.5")
	assert.Contains(t, req.Prompt, "- Material: Not provided")
	assert.Contains(t, req.Prompt, "Prefer Roman terms.")

	_, err = c.Catalog(as(bob), &model.Artifact{}, model.AISettings{})
	assert.True(t, service.IsValidation(err))
}

func TestCatalogRejectsInvalidOutput(t *testing.T) {
	bad := validResult()
	bad.ArtifactType = "plastic"
	gw, _ := newGateway(bad)
	c := NewCataloger(gw, logger.Nop())

	_, err := c.Catalog(as(bob), &model.Artifact{PhotoURL: "p"}, model.AISettings{})
	assert.ErrorIs(t, err, ErrInvalidOutput)

	bad = validResult()
	bad.ConfidenceScores.Overall = 140
	gw, _ = newGateway(bad)
	c = NewCataloger(gw, logger.Nop())
	_, err = c.Catalog(as(bob), &model.Artifact{PhotoURL: "p"}, model.AISettings{})
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestCatalogApplyFillsOnlyGaps(t *testing.T) {
	gw, _ := newGateway(nil)
	c := NewCataloger(gw, logger.Nop())
	a, err := gateway.CreateAs[model.Artifact](as(bob), gw, model.EntityArtifact, map[string]any{
		"artifact_code": "ART-1",
		"photo_url":     "p",
		"material":      "clay",
		"time_period":   "medieval",
	})
	require.NoError(t, err)

	r := validResult()
	r.TimePeriod = ""
	out, err := c.Apply(as(bob), a, &r)
	require.NoError(t, err)
	assert.Equal(t, "pottery", out.ArtifactType)
	assert.Equal(t, "vessel", out.FunctionalType)
	assert.Equal(t, "medieval", out.TimePeriod)
	assert.Equal(t, "clay", out.Material)
	assert.Equal(t, "Italy", out.Country)
	assert.Equal(t, "1st century BC", out.EstimatedDate)
}

func TestCompare(t *testing.T) {
	gw, rec := newGateway("**Similarities**\n- both red slip")
	c := NewComparator(gw, logger.Nop())
	c.now = func() time.Time { return time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC) }

	one := []model.Artifact{{Record: model.Record{ID: "a1"}, ArtifactCode: "ART-1"}}
	_, err := c.Compare(as(bob), one, model.AISettings{})
	assert.True(t, service.IsValidation(err))

	six := make([]model.Artifact, 6)
	_, err = c.Compare(as(bob), six, model.AISettings{})
	assert.True(t, service.IsValidation(err))

	two := append(one, model.Artifact{Record: model.Record{ID: "a2"}, ArtifactCode: "ART-2", LocationLat: ptr(1), LocationLng: ptr(2)})
	cmp, err := c.Compare(as(bob), two, model.AISettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, cmp.ArtifactIDs)
	assert.Equal(t, []string{"ART-1", "ART-2"}, cmp.ArtifactCodes)
	assert.Equal(t, "**Similarities**\n- both red slip", cmp.Content)
	assert.NotEmpty(t, cmp.ID)

	prompt := rec.last().Prompt
	assert.Contains(t, prompt, "Compare these 2 artifacts")
	assert.Contains(t, prompt, `"id": "a2"`)
	assert.Contains(t, prompt, `"location": null`)
	assert.Contains(t, prompt, "[ARTIFACT_ID: {id}]")
	assert.Empty(t, rec.last().ResponseJSONSchema)
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]model.Artifact{
		{ArtifactType: "pottery", LocationLat: ptr(41.901), LocationLng: ptr(12.501), AdminReviewed: true, IsInteresting: true},
		{ArtifactType: "pottery", LocationLat: ptr(41.904), LocationLng: ptr(12.499)},
		{LocationLat: ptr(40), LocationLng: ptr(12)},
		{},
	})
	assert.Equal(t, CollectionStats{
		Total:       4,
		ByType:      map[string]int{"pottery": 2, model.UncategorizedType: 2},
		Locations:   2,
		Reviewed:    1,
		Pending:     3,
		Interesting: 1,
	}, st)
}

func TestSelectedSections(t *testing.T) {
	_, err := SelectedSections(map[string]bool{"summary": false})
	assert.True(t, service.IsValidation(err))

	_, err = SelectedSections(map[string]bool{"astrology": true})
	assert.True(t, service.IsValidation(err))

	got, err := SelectedSections(map[string]bool{"review_status": true, "summary": true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "summary", got[0].Key)
	assert.Equal(t, "review_status", got[1].Key)
}

func TestReportGenerate(t *testing.T) {
	gw, rec := newGateway("**Executive Summary**")
	r := NewReporter(gw, logger.Nop())

	var list []model.Artifact
	for i := 0; i < 12; i++ {
		list = append(list, model.Artifact{Record: model.Record{ID: string(rune('a' + i))}, ArtifactType: "glass"})
	}
	rep, err := r.Generate(as(ann), list, &model.ReportRequest{Sections: map[string]bool{"trends": true, "rare_items": true}}, model.AISettings{})
	require.NoError(t, err)
	assert.Equal(t, 12, rep.ArtifactCount)
	assert.Equal(t, []string{"temporal and spatial trends", "identification of rare or unique items"}, rep.Sections)
	assert.True(t, rep.Options["trends"])
	assert.False(t, rep.Options["summary"])
	assert.Len(t, rep.Options, len(ReportSections))

	prompt := rec.last().Prompt
	assert.Contains(t, prompt, "- Total Artifacts: 12")
	assert.Contains(t, prompt, `- Types: {"glass":12}`)
	assert.Contains(t, prompt, "1. temporal and spatial trends\n2. identification of rare or unique items")
	assert.Contains(t, prompt, `"id": "j"`)
	assert.NotContains(t, prompt, `"id": "k"`)
}

type fakeClient struct {
	tokens []string
	err    error
	failAt int
	got    *llm.CompletionRequest
}

func (f *fakeClient) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.got = req
	var b strings.Builder
	for i, tok := range f.tokens {
		if f.err != nil && i == f.failAt {
			return nil, f.err
		}
		b.WriteString(tok)
		if err := cb(tok, i); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: b.String(), Model: "fake-large"}, nil
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake-large", "fake-small"} }

func TestUserContent(t *testing.T) {
	assert.Equal(t, "hi", UserContent("hi", nil))
	assert.Equal(t, "[ARTIFACT_ID: a1] [ARTIFACT_ID: a2]", UserContent(" ", []string{"a1", "a2"}))
	assert.Equal(t, "look\n\n[ARTIFACT_ID: a1]", UserContent("look", []string{"a1"}))
}

func TestAnalyzerStreamsReply(t *testing.T) {
	gw, rec := newGateway("unused")
	client := &fakeClient{tokens: []string{"Red ", "slip ", "ware."}}
	an := NewAnalyzer(gw, client, logger.Nop())

	conv, err := an.Create(as(bob), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(conv.Metadata["name"], "Analysis "))

	var got []string
	out, err := an.Send(as(bob), bob, conv.ID, &model.AnalysisMessageRequest{Content: "What is this?", ArtifactIDs: []string{"a1"}},
		[]string{"memory://files/x/p.jpg"}, model.AISettings{PreferredModel: "fast"},
		func(tok string, _ int) error {
			got = append(got, tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Red ", "slip ", "ware."}, got)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "What is this?\n\n[ARTIFACT_ID: a1]", out.Messages[0].Content)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	assert.Equal(t, "Red slip ware.", out.Messages[1].Content)
	assert.Empty(t, rec.reqs)

	assert.Equal(t, "fake-small", client.got.Model)
	assert.Equal(t, []string{"memory://files/x/p.jpg"}, client.got.Messages[0].Images)

	stored, err := an.Get(as(bob), bob, conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestAnalyzerFallsBackToGateway(t *testing.T) {
	gw, rec := newGateway("from gateway")
	an := NewAnalyzer(gw, &fakeClient{err: errors.New("provider down")}, logger.Nop())
	conv, err := an.Create(as(bob), "Amphorae")
	require.NoError(t, err)

	var got []string
	out, err := an.Send(as(bob), bob, conv.ID, &model.AnalysisMessageRequest{Content: "Compare"}, nil, model.AISettings{},
		func(tok string, _ int) error {
			got = append(got, tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"from gateway"}, got)
	assert.Equal(t, "from gateway", out.Messages[1].Content)
	assert.Contains(t, rec.last().Prompt, "[USER]\nCompare")
}

func TestAnalyzerKeepsUserTurnWhenStreamBreaks(t *testing.T) {
	gw, rec := newGateway("from gateway")
	an := NewAnalyzer(gw, &fakeClient{tokens: []string{"a", "b"}, err: errors.New("reset"), failAt: 1}, logger.Nop())
	conv, err := an.Create(as(bob), "x")
	require.NoError(t, err)

	_, err = an.Send(as(bob), bob, conv.ID, &model.AnalysisMessageRequest{Content: "hi"}, nil, model.AISettings{}, nil)
	require.Error(t, err)
	assert.Empty(t, rec.reqs)

	stored, err := an.Get(as(bob), bob, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "user", stored.Messages[0].Role)
}

func TestAnalyzerOwnership(t *testing.T) {
	gw, _ := newGateway("ok")
	an := NewAnalyzer(gw, nil, logger.Nop())
	conv, err := an.Create(as(bob), "Mine")
	require.NoError(t, err)
	_, err = an.Create(as(ann), "Hers")
	require.NoError(t, err)

	_, err = an.Get(as(ann), ann, conv.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)
	assert.ErrorIs(t, an.Delete(as(ann), ann, conv.ID), service.ErrForbidden)

	_, err = an.Send(as(bob), bob, conv.ID, &model.AnalysisMessageRequest{}, nil, model.AISettings{}, nil)
	assert.True(t, service.IsValidation(err))

	renamed, err := an.Rename(as(bob), bob, conv.ID, "Amphora study")
	require.NoError(t, err)
	assert.Equal(t, "Amphora study", renamed.Metadata["name"])

	list, err := an.List(as(bob), bob)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	require.NoError(t, an.Delete(as(bob), bob, conv.ID))
	list, err = an.List(as(bob), bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}
