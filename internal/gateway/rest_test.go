package gateway

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

type seenRequest struct {
	method string
	path   string
	query  string
	auth   string
	apiKey string
	body   string
}

type fakeBackend struct {
	mu   sync.Mutex
	seen []seenRequest
}

func (b *fakeBackend) handle(ctx *fasthttp.RequestCtx) {
	b.mu.Lock()
	b.seen = append(b.seen, seenRequest{
		method: string(ctx.Method()),
		path:   string(ctx.Path()),
		query:  string(ctx.QueryArgs().Peek("q")),
		auth:   string(ctx.Request.Header.Peek("Authorization")),
		apiKey: string(ctx.Request.Header.Peek("api_key")),
		body:   string(ctx.PostBody()),
	})
	b.mu.Unlock()

	ctx.SetContentType("application/json")
	path := string(ctx.Path())
	switch {
	case path == "/api/apps/app1/entities/Note/missing":
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	case path == "/api/apps/app1/entities/User/me" && len(ctx.Request.Header.Peek("Authorization")) == 0:
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	case path == "/api/apps/app1/entities/User/me":
		ctx.SetBodyString(`{"id":"u1","email":"ann@dig.org","role":"user"}`)
	case path == "/api/apps/app1/entities/Note" && ctx.IsGet():
		ctx.SetBodyString(`[{"id":"n1","title":"a"},{"id":"n2","title":"b"}]`)
	case path == "/api/apps/app1/entities/Note" && ctx.IsPost():
		ctx.SetBodyString(`{"id":"n3","title":"c"}`)
	case path == "/api/apps/app1/entities/Note/n3":
		if ctx.IsDelete() {
			return
		}
		ctx.SetBodyString(`{"id":"n3","title":"d"}`)
	case path == "/api/apps/app1/integrations/Core/UploadFile":
		if _, err := ctx.FormFile("file"); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.SetBodyString(`{"file_url":"https://files.example/photo.jpg"}`)
	case path == "/api/apps/app1/integrations/Core/InvokeLLM":
		ctx.SetBodyString(`"an answer"`)
	default:
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("boom")
	}
}

func (b *fakeBackend) last() seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen[len(b.seen)-1]
}

type recordingFeed struct {
	mu      sync.Mutex
	changes []Change
}

func (f *recordingFeed) Publish(_ context.Context, c Change) error {
	f.mu.Lock()
	f.changes = append(f.changes, c)
	f.mu.Unlock()
	return nil
}

func (f *recordingFeed) Subscribe(context.Context, string, func(Change)) (func(), error) {
	return func() {}, nil
}

func newTestREST(t *testing.T, feed Feed) (*REST, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, backend.handle)
	t.Cleanup(func() { ln.Close() })

	g, err := NewREST(RESTConfig{
		BaseURL: "http://backend",
		AppID:   "app1",
		APIKey:  "secret-key",
		Dial:    func(string) (net.Conn, error) { return ln.Dial() },
	}, feed, logger.Nop())
	require.NoError(t, err)
	return g, backend
}

func TestRESTRequiresBaseURL(t *testing.T) {
	_, err := NewREST(RESTConfig{}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestRESTCrud(t *testing.T) {
	feed := &recordingFeed{}
	g, backend := newTestREST(t, feed)
	ctx := WithToken(context.Background(), "user-token")

	list, err := g.List(ctx, "Note", Query{Filter: map[string]any{"title": "a"}, Sort: "-created_date"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	req := backend.last()
	assert.Equal(t, "GET", req.method)
	assert.JSONEq(t, `{"title":"a"}`, req.query)
	assert.Equal(t, "Bearer user-token", req.auth)
	assert.Equal(t, "secret-key", req.apiKey)

	created, err := g.Create(ctx, "Note", map[string]string{"title": "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n3","title":"c"}`, string(created))
	assert.JSONEq(t, `{"title":"c"}`, backend.last().body)

	_, err = g.Update(ctx, "Note", "n3", map[string]string{"title": "d"})
	require.NoError(t, err)
	assert.Equal(t, "PUT", backend.last().method)

	require.NoError(t, g.Delete(ctx, "Note", "n3"))

	feed.mu.Lock()
	require.Len(t, feed.changes, 3)
	assert.Equal(t, Change{Entity: "Note", Op: OpCreate, ID: "n3", Data: created}, feed.changes[0])
	assert.Equal(t, OpUpdate, feed.changes[1].Op)
	assert.Equal(t, Change{Entity: "Note", Op: OpDelete, ID: "n3"}, feed.changes[2])
	feed.mu.Unlock()
}

func TestRESTErrors(t *testing.T) {
	g, _ := newTestREST(t, nil)
	ctx := context.Background()

	_, err := g.Get(ctx, "Note", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = g.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = g.Get(ctx, "Other", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, fasthttp.StatusInternalServerError, se.Status)
	assert.Equal(t, "boom", se.Body)

	_, err = g.Subscribe(ctx, "Note", func(Change) {})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestRESTCurrentUserAndIntegrations(t *testing.T) {
	g, backend := newTestREST(t, nil)
	ctx := WithToken(context.Background(), "user-token")

	u, err := g.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann@dig.org", u.Email)

	url, err := g.UploadFile(ctx, "photo.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/photo.jpg", url)

	text, err := InvokeText(ctx, g, AIRequest{Prompt: "describe"})
	require.NoError(t, err)
	assert.Equal(t, "an answer", text)
	var sent AIRequest
	require.NoError(t, json.Unmarshal([]byte(backend.last().body), &sent))
	assert.Equal(t, "describe", sent.Prompt)
	assert.True(t, strings.HasSuffix(backend.last().path, "/InvokeLLM"))
}
