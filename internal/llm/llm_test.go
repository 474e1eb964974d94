package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func prompt() *CompletionRequest {
	return &CompletionRequest{
		System:   "You are a finds registrar.",
		Messages: []ChatMessage{{Role: "user", Content: "Describe the pin in a few words, please, with some detail about its alloy."}},
	}
}

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":42,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Bronze"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" pin"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicStreamReportsProviderUsage(t *testing.T) {
	srv := streamServer(t, anthropicStream)
	c, err := NewAnthropicClient("test-key", option.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	var tokens []string
	resp, err := c.CompleteStream(context.Background(), prompt(), func(token string, index int) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bronze", " pin"}, tokens)
	assert.Equal(t, "Bronze pin", resp.Content)
	assert.Equal(t, 42, resp.TokensIn)
	assert.Equal(t, 7, resp.TokensOut)
	assert.Equal(t, "end_turn", resp.StopReason)
}

const openAIStream = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Iron"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":" nail"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`

func TestOpenAIStreamDoesNotGuessUsage(t *testing.T) {
	srv := streamServer(t, openAIStream)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	c := newOpenAIClient(cfg)

	resp, err := c.CompleteStream(context.Background(), prompt(), func(string, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "Iron nail", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Zero(t, resp.TokensIn)
	assert.Zero(t, resp.TokensOut)
}
