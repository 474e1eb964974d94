package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
	"github.com/capitalize-ai/artifact-sync/pkg/tracing"
)

type instrumented struct {
	next   Gateway
	tracer trace.Tracer
	logger *logger.Logger
}

// Instrument wraps g with a span, a latency histogram and a debug log line
// per call.
func Instrument(g Gateway, log *logger.Logger) Gateway {
	return &instrumented{
		next:   g,
		tracer: tracing.Tracer("gateway"),
		logger: log,
	}
}

func (g *instrumented) observe(ctx context.Context, op, entity string) (context.Context, func(error)) {
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("gateway.entity", entity),
	))
	start := time.Now()

	return ctx, func(err error) {
		status := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			status = "not_found"
		case errors.Is(err, ErrNotSupported):
			status = "unsupported"
		default:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		d := time.Since(start)
		metrics.RecordGateway(op, entity, status, d.Seconds())
		g.logger.Debug("gateway call",
			zap.String("op", op),
			zap.String("entity", entity),
			zap.String("status", status),
			zap.Duration("duration", d),
		)
		span.End()
	}
}

func (g *instrumented) List(ctx context.Context, entity string, q Query) ([]json.RawMessage, error) {
	ctx, done := g.observe(ctx, "list", entity)
	out, err := g.next.List(ctx, entity, q)
	done(err)
	return out, err
}

func (g *instrumented) Get(ctx context.Context, entity, id string) (json.RawMessage, error) {
	ctx, done := g.observe(ctx, "get", entity)
	out, err := g.next.Get(ctx, entity, id)
	done(err)
	return out, err
}

func (g *instrumented) Create(ctx context.Context, entity string, data any) (json.RawMessage, error) {
	ctx, done := g.observe(ctx, "create", entity)
	out, err := g.next.Create(ctx, entity, data)
	done(err)
	return out, err
}

func (g *instrumented) Update(ctx context.Context, entity, id string, patch any) (json.RawMessage, error) {
	ctx, done := g.observe(ctx, "update", entity)
	out, err := g.next.Update(ctx, entity, id, patch)
	done(err)
	return out, err
}

func (g *instrumented) Delete(ctx context.Context, entity, id string) error {
	ctx, done := g.observe(ctx, "delete", entity)
	err := g.next.Delete(ctx, entity, id)
	done(err)
	return err
}

func (g *instrumented) UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ctx, done := g.observe(ctx, "upload", "file")
	out, err := g.next.UploadFile(ctx, name, contentType, data)
	done(err)
	return out, err
}

func (g *instrumented) InvokeAI(ctx context.Context, req AIRequest) (json.RawMessage, error) {
	ctx, done := g.observe(ctx, "invoke_ai", "llm")
	out, err := g.next.InvokeAI(ctx, req)
	done(err)
	return out, err
}

func (g *instrumented) CurrentUser(ctx context.Context) (*model.User, error) {
	ctx, done := g.observe(ctx, "me", model.EntityUser)
	out, err := g.next.CurrentUser(ctx)
	done(err)
	return out, err
}

func (g *instrumented) UpdateCurrentUser(ctx context.Context, patch any) (*model.User, error) {
	ctx, done := g.observe(ctx, "update_me", model.EntityUser)
	out, err := g.next.UpdateCurrentUser(ctx, patch)
	done(err)
	return out, err
}

func (g *instrumented) Subscribe(ctx context.Context, entity string, fn func(Change)) (func(), error) {
	_, done := g.observe(ctx, "subscribe", entity)
	out, err := g.next.Subscribe(ctx, entity, fn)
	done(err)
	return out, err
}
