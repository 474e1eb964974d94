package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/llm"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// llmGateway routes InvokeAI to a local LLM client and everything else to
// the wrapped gateway.
type llmGateway struct {
	Gateway
	client llm.Client
	logger *logger.Logger
}

// WithInvoker returns g with InvokeAI answered by client.
func WithInvoker(g Gateway, client llm.Client, log *logger.Logger) Gateway {
	if client == nil {
		return g
	}
	return &llmGateway{Gateway: g, client: client, logger: log}
}

// InvokeAI sends the prompt, with any file URLs as images, to the LLM.
func (g *llmGateway) InvokeAI(ctx context.Context, req AIRequest) (json.RawMessage, error) {
	creq := &llm.CompletionRequest{
		Messages: []llm.ChatMessage{{
			Role:    "user",
			Content: req.Prompt,
			Images:  req.FileURLs,
		}},
		Temperature: 0.4,
	}
	if req.ResponseJSONSchema != nil {
		schema, err := json.Marshal(req.ResponseJSONSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		creq.JSONMode = true
		creq.System = "Answer with one JSON object that validates against this JSON schema:\n" + string(schema)
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, creq)
	if err != nil {
		metrics.RecordLLMStream(g.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	if req.ResponseJSONSchema == nil {
		return json.Marshal(resp.Content)
	}

	body := stripCodeFence(resp.Content)
	if !json.Valid([]byte(body)) {
		g.logger.Warn("LLM returned invalid JSON", zap.String("model", resp.Model), zap.Int("length", len(body)))
		return nil, fmt.Errorf("LLM returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

// stripCodeFence removes a surrounding ```json ... ``` block.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
