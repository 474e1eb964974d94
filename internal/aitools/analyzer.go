package aitools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/llm"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

const analyzerSystem = `You are an expert archaeological analysis assistant. Help the user study artifacts from their collection, images and documents they share. When the user references artifacts with [ARTIFACT_ID: id] markers, refer back to them the same way. ` + formatting

// Analyzer runs chat-style analysis conversations. Replies stream from the
// LLM client when one is configured and otherwise come from a single
// gateway InvokeAI call.
type Analyzer struct {
	gw     gateway.Gateway
	client llm.Client
	now    func() time.Time
	logger *logger.Logger
}

// NewAnalyzer creates an analyzer. client may be nil.
func NewAnalyzer(gw gateway.Gateway, client llm.Client, log *logger.Logger) *Analyzer {
	return &Analyzer{gw: gw, client: client, now: time.Now, logger: log}
}

// List returns actor's analysis conversations, most recently updated first.
func (a *Analyzer) List(ctx context.Context, actor string) ([]model.AgentConversation, error) {
	convs, err := gateway.ListAs[model.AgentConversation](ctx, a.gw, model.EntityAgentConversation, gateway.Query{
		Filter: map[string]any{"agent_name": model.AnalyzerAgent, "created_by": actor},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return lastTouched(&convs[i]).After(lastTouched(&convs[j]))
	})
	return convs, nil
}

func lastTouched(c *model.AgentConversation) time.Time {
	if !c.UpdatedDate.IsZero() {
		return c.UpdatedDate
	}
	return c.CreatedDate
}

// Create starts a new analysis. An empty name defaults to "Analysis <date>".
func (a *Analyzer) Create(ctx context.Context, name string) (*model.AgentConversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Analysis " + a.now().Format("2006-01-02")
	}
	conv, err := gateway.CreateAs[model.AgentConversation](ctx, a.gw, model.EntityAgentConversation, map[string]any{
		"agent_name": model.AnalyzerAgent,
		"metadata":   map[string]string{"name": name},
		"messages":   []model.AgentMessage{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis: %w", err)
	}
	return conv, nil
}

// Get returns an analysis owned by actor.
func (a *Analyzer) Get(ctx context.Context, actor, id string) (*model.AgentConversation, error) {
	conv, err := gateway.GetAs[model.AgentConversation](ctx, a.gw, model.EntityAgentConversation, id)
	if err != nil {
		return nil, err
	}
	if conv.CreatedBy != actor || conv.AgentName != model.AnalyzerAgent {
		return nil, service.ErrForbidden
	}
	return conv, nil
}

// Rename sets the analysis display name.
func (a *Analyzer) Rename(ctx context.Context, actor, id, name string) (*model.AgentConversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "please enter a name")
	}
	conv, err := a.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(conv.Metadata)+1)
	for k, v := range conv.Metadata {
		meta[k] = v
	}
	meta["name"] = name
	return gateway.UpdateAs[model.AgentConversation](ctx, a.gw, model.EntityAgentConversation, id, map[string]any{"metadata": meta})
}

// Delete removes an analysis.
func (a *Analyzer) Delete(ctx context.Context, actor, id string) error {
	if _, err := a.Get(ctx, actor, id); err != nil {
		return err
	}
	return a.gw.Delete(ctx, model.EntityAgentConversation, id)
}

// UserContent joins the typed text and artifact references into the stored
// user turn.
func UserContent(text string, artifactIDs []string) string {
	refs := make([]string, 0, len(artifactIDs))
	for _, id := range artifactIDs {
		refs = append(refs, ArtifactRef(id))
	}
	joined := strings.Join(refs, " ")
	switch {
	case joined == "":
		return text
	case strings.TrimSpace(text) == "":
		return joined
	default:
		return text + "\n\n" + joined
	}
}

// Send appends a user turn and the assistant reply to the analysis. Tokens
// are passed to onToken as they arrive; onToken may be nil. The user turn
// is persisted even when the reply fails.
func (a *Analyzer) Send(ctx context.Context, actor, id string, req *model.AnalysisMessageRequest, fileURLs []string, settings model.AISettings, onToken llm.StreamCallback) (*model.AgentConversation, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.ArtifactIDs) == 0 && len(fileURLs) == 0 {
		return nil, invalid("content", "message is empty")
	}
	conv, err := a.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	conv.Messages = append(conv.Messages, model.AgentMessage{
		Role:      "user",
		Content:   UserContent(req.Content, req.ArtifactIDs),
		FileURLs:  fileURLs,
		CreatedAt: a.now().UTC(),
	})
	if err := a.save(ctx, conv); err != nil {
		return nil, err
	}

	reply, err := a.reply(ctx, conv.Messages, settings, onToken)
	if err != nil {
		return conv, fmt.Errorf("failed to get analysis reply: %w", err)
	}

	conv.Messages = append(conv.Messages, model.AgentMessage{
		Role:      "assistant",
		Content:   reply,
		CreatedAt: a.now().UTC(),
	})
	if err := a.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (a *Analyzer) save(ctx context.Context, conv *model.AgentConversation) error {
	out, err := gateway.UpdateAs[model.AgentConversation](ctx, a.gw, model.EntityAgentConversation, conv.ID, map[string]any{
		"messages": conv.Messages,
	})
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	conv.UpdatedDate = out.UpdatedDate
	return nil
}

func (a *Analyzer) reply(ctx context.Context, history []model.AgentMessage, settings model.AISettings, onToken llm.StreamCallback) (string, error) {
	if onToken == nil {
		onToken = func(string, int) error { return nil }
	}

	if a.client != nil {
		emitted := 0
		text, err := a.stream(ctx, history, settings, func(tok string, i int) error {
			emitted++
			return onToken(tok, i)
		})
		if err == nil {
			return text, nil
		}
		// Once tokens reached the client a second answer would garble it.
		if emitted > 0 || errors.Is(err, context.Canceled) {
			return "", err
		}
		a.logger.Warn("analysis stream failed, falling back to gateway", zap.Error(err))
	}

	text, err := gateway.InvokeText(ctx, a.gw, gateway.AIRequest{
		Prompt:   WithSettings(transcript(history), settings),
		FileURLs: history[len(history)-1].FileURLs,
	})
	if err != nil {
		return "", err
	}
	if err := onToken(text, 0); err != nil {
		return "", err
	}
	return text, nil
}

func (a *Analyzer) stream(ctx context.Context, history []model.AgentMessage, settings model.AISettings, onToken llm.StreamCallback) (string, error) {
	modelName, temp := llm.ModelFor(a.client, settings.PreferredModel)
	req := &llm.CompletionRequest{
		Model:       modelName,
		System:      WithSettings(analyzerSystem, settings),
		Temperature: temp,
		Stream:      true,
	}
	for _, m := range history {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: m.Role, Content: m.Content, Images: m.FileURLs})
	}

	start := time.Now()
	resp, err := a.client.CompleteStream(ctx, req, onToken)
	if err != nil {
		metrics.RecordLLMStream(a.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}
	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

// transcript flattens the conversation into one prompt for backends that
// take a single prompt.
func transcript(history []model.AgentMessage) string {
	var b strings.Builder
	b.WriteString(analyzerSystem)
	b.WriteString("\n\nConversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", strings.ToUpper(m.Role), m.Content)
	}
	b.WriteString("\nReply to the last USER message.")
	return b.String()
}
