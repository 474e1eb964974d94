package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	// StreamName is the name of the entity change stream.
	StreamName = "ENTITY_CHANGES"

	// SubjectPrefix is the prefix for all change subjects.
	SubjectPrefix = "changes"
)

// Feed publishes and consumes gateway changes over JetStream. It satisfies
// gateway.Feed.
type Feed struct {
	client *Client
	logger *logger.Logger
}

// NewFeed creates a change feed on client.
func NewFeed(client *Client, log *logger.Logger) *Feed {
	return &Feed{client: client, logger: log}
}

// EnsureStream ensures the change stream exists. Changes are short-lived
// hints, so the stream keeps a day at most.
func (f *Feed) EnsureStream(ctx context.Context) error {
	js := f.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Entity changes observed by artifact-sync instances",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// ChangeSubject returns the subject for a change to one record.
func ChangeSubject(entity, id string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, entity, id)
}

// EntityFilter returns the filter subject for every change to entity.
func EntityFilter(entity string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, entity)
}

// Publish appends a change to the stream.
func (f *Feed) Publish(ctx context.Context, c gateway.Change) error {
	if c.ID == "" {
		return fmt.Errorf("change has no record id")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	if _, err := f.client.JetStream().Publish(ctx, ChangeSubject(c.Entity, c.ID), data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	return nil
}

// Subscribe delivers changes to entity published from now on, until the
// returned func is called or ctx ends.
func (f *Feed) Subscribe(ctx context.Context, entity string, fn func(gateway.Change)) (func(), error) {
	cons, err := f.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{EntityFilter(entity)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var c gateway.Change
		if err := json.Unmarshal(msg.Data(), &c); err != nil {
			f.logger.Warn("dropping malformed change", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume changes: %w", err)
	}

	var once sync.Once
	stop := func() { once.Do(cc.Stop) }
	go func() {
		<-ctx.Done()
		stop()
	}()

	return stop, nil
}
