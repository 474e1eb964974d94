// Package gateway is the client side of the backend-as-a-service that owns
// every entity (conversations, messages, artifacts, users). All calls carry
// the caller's credentials in the context.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

var (
	// ErrNotFound is returned when the entity does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnauthenticated is returned when the context carries no credentials
	// the backend accepts.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNotSupported is returned by optional capabilities (live
	// subscriptions, AI) the backend does not provide.
	ErrNotSupported = errors.New("not supported by gateway")
)

// Query narrows a List call. Filter is an equality filter; when the stored
// field is an array the filter value must be one of its elements. Sort is a
// field name, prefixed with "-" for descending order.
type Query struct {
	Filter map[string]any
	Sort   string
	Limit  int
}

// AIRequest is a single prompt sent to the backend's AI integration.
type AIRequest struct {
	Prompt             string         `json:"prompt"`
	FileURLs           []string       `json:"file_urls,omitempty"`
	ResponseJSONSchema map[string]any `json:"response_json_schema,omitempty"`
	AddInternetContext bool           `json:"add_context_from_internet"`
}

// Op is the kind of change reported by a subscription.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a single entity mutation delivered to subscribers.
type Change struct {
	Entity string          `json:"entity"`
	Op     Op              `json:"op"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Gateway is the backend interface used by every service.
type Gateway interface {
	List(ctx context.Context, entity string, q Query) ([]json.RawMessage, error)
	Get(ctx context.Context, entity, id string) (json.RawMessage, error)
	Create(ctx context.Context, entity string, data any) (json.RawMessage, error)
	Update(ctx context.Context, entity, id string, patch any) (json.RawMessage, error)
	Delete(ctx context.Context, entity, id string) error

	// UploadFile stores a file and returns its public URL.
	UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error)

	// InvokeAI runs a prompt. The result is a JSON object when the request
	// carries a response schema and a JSON string otherwise.
	InvokeAI(ctx context.Context, req AIRequest) (json.RawMessage, error)

	// CurrentUser resolves the user behind the context credentials.
	CurrentUser(ctx context.Context) (*model.User, error)
	// UpdateCurrentUser patches the calling user's own record.
	UpdateCurrentUser(ctx context.Context, patch any) (*model.User, error)

	// Subscribe streams changes to entity until the returned func is
	// called. Returns ErrNotSupported when the backend has no push channel.
	Subscribe(ctx context.Context, entity string, fn func(Change)) (func(), error)
}

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

// WithActor attaches the caller's identity (email) to ctx.
func WithActor(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorKey, email)
}

// ActorFrom returns the caller identity attached by WithActor.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

// WithToken attaches the caller's bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFrom returns the bearer token attached by WithToken.
func TokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// ListAs lists entity and decodes each record into T.
func ListAs[T any](ctx context.Context, g Gateway, entity string, q Query) ([]T, error) {
	raws, err := g.List(ctx, entity, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", entity, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAs fetches a single record and decodes it into T.
func GetAs[T any](ctx context.Context, g Gateway, entity, id string) (*T, error) {
	raw, err := g.Get(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return decode[T](entity, raw)
}

// CreateAs creates a record and decodes the stored result into T.
func CreateAs[T any](ctx context.Context, g Gateway, entity string, data any) (*T, error) {
	raw, err := g.Create(ctx, entity, data)
	if err != nil {
		return nil, err
	}
	return decode[T](entity, raw)
}

// UpdateAs patches a record and decodes the stored result into T.
func UpdateAs[T any](ctx context.Context, g Gateway, entity, id string, patch any) (*T, error) {
	raw, err := g.Update(ctx, entity, id, patch)
	if err != nil {
		return nil, err
	}
	return decode[T](entity, raw)
}

// InvokeText runs a free-form prompt and returns the text answer.
func InvokeText(ctx context.Context, g Gateway, req AIRequest) (string, error) {
	req.ResponseJSONSchema = nil
	raw, err := g.InvokeAI(ctx, req)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some backends answer with a bare object even without a schema.
		return string(raw), nil
	}
	return s, nil
}

func decode[T any](entity string, raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", entity, err)
	}
	return &v, nil
}
