package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// Feed is a push channel for entity changes, such as a NATS stream shared
// by every instance of this service.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, entity string, fn func(Change)) (func(), error)
}

// RESTConfig configures the REST gateway client.
type RESTConfig struct {
	BaseURL string
	AppID   string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	Burst   int

	// Dial overrides the network dialer; tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

// REST talks to the hosted backend over its HTTP API.
type REST struct {
	client  *fasthttp.Client
	base    string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	feed    Feed
	logger  *logger.Logger
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// NewREST creates a REST gateway. feed may be nil.
func NewREST(cfg RESTConfig, feed Feed, log *logger.Logger) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS) * 2
	}

	base := cfg.BaseURL
	if cfg.AppID != "" {
		base = fmt.Sprintf("%s/api/apps/%s", cfg.BaseURL, url.PathEscape(cfg.AppID))
	}

	return &REST{
		client: &fasthttp.Client{
			Name:                "artifact-sync",
			Dial:                cfg.Dial,
			MaxConnsPerHost:     64,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		base:    base,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		feed:    feed,
		logger:  log,
	}, nil
}

// List returns records of entity matching q.
func (g *REST) List(ctx context.Context, entity string, q Query) ([]json.RawMessage, error) {
	params := url.Values{}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(q.Filter) > 0 {
		b, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		params.Set("q", string(b))
	}

	path := "/entities/" + url.PathEscape(entity)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out []json.RawMessage
	if err := g.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a record by id.
func (g *REST) Get(ctx context.Context, entity, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.doJSON(ctx, fasthttp.MethodGet, entityPath(entity, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create stores a new record.
func (g *REST) Create(ctx context.Context, entity string, data any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.doJSON(ctx, fasthttp.MethodPost, "/entities/"+url.PathEscape(entity), data, &out); err != nil {
		return nil, err
	}
	g.publish(ctx, entity, OpCreate, out)
	return out, nil
}

// Update patches a record.
func (g *REST) Update(ctx context.Context, entity, id string, patch any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.doJSON(ctx, fasthttp.MethodPut, entityPath(entity, id), patch, &out); err != nil {
		return nil, err
	}
	g.publish(ctx, entity, OpUpdate, out)
	return out, nil
}

// Delete removes a record.
func (g *REST) Delete(ctx context.Context, entity, id string) error {
	if err := g.doJSON(ctx, fasthttp.MethodDelete, entityPath(entity, id), nil, nil); err != nil {
		return err
	}
	if g.feed != nil {
		if err := g.feed.Publish(ctx, Change{Entity: entity, Op: OpDelete, ID: id}); err != nil {
			g.logger.Warn("failed to publish change", zap.String("entity", entity), zap.Error(err))
		}
	}
	return nil
}

// UploadFile posts the file as multipart form data.
func (g *REST) UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	var out struct {
		FileURL string `json:"file_url"`
	}
	raw, err := g.do(ctx, fasthttp.MethodPost, "/integrations/Core/UploadFile", w.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.FileURL == "" {
		return "", fmt.Errorf("upload response carried no file_url")
	}
	return out.FileURL, nil
}

// InvokeAI runs a prompt through the backend's LLM integration.
func (g *REST) InvokeAI(ctx context.Context, req AIRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.doJSON(ctx, fasthttp.MethodPost, "/integrations/Core/InvokeLLM", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentUser returns the user owning the context token.
func (g *REST) CurrentUser(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := g.doJSON(ctx, fasthttp.MethodGet, "/entities/User/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateCurrentUser patches the token owner's user record.
func (g *REST) UpdateCurrentUser(ctx context.Context, patch any) (*model.User, error) {
	var u model.User
	if err := g.doJSON(ctx, fasthttp.MethodPut, "/entities/User/me", patch, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Subscribe uses the change feed when one is configured.
func (g *REST) Subscribe(ctx context.Context, entity string, fn func(Change)) (func(), error) {
	if g.feed == nil {
		return nil, ErrNotSupported
	}
	return g.feed.Subscribe(ctx, entity, fn)
}

func (g *REST) publish(ctx context.Context, entity string, op Op, raw json.RawMessage) {
	if g.feed == nil {
		return
	}
	var rec struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &rec)
	if err := g.feed.Publish(ctx, Change{Entity: entity, Op: op, ID: rec.ID, Data: raw}); err != nil {
		g.logger.Warn("failed to publish change", zap.String("entity", entity), zap.Error(err))
	}
}

func (g *REST) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = b
	}

	raw, err := g.do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (g *REST) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway rate limit: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.SetContentType(contentType)
		req.SetBody(body)
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if g.apiKey != "" {
		req.Header.Set("api_key", g.apiKey)
	}

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	switch {
	case status == fasthttp.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, ErrUnauthenticated
	case status < 200 || status > 299:
		return nil, &StatusError{Status: status, Body: truncate(string(out), 512)}
	}
	return out, nil
}

func entityPath(entity, id string) string {
	return "/entities/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
