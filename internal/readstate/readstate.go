// Package readstate tracks which chat messages a user has acknowledged.
package readstate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// Tracker appends the actor to read_by on unread messages.
type Tracker struct {
	gw     gateway.Gateway
	logger *logger.Logger

	// OnChange runs after a MarkRead call that updated at least one
	// message, typically to recount unread totals.
	OnChange func(ctx context.Context, actor string)
}

// New creates a tracker.
func New(gw gateway.Gateway, log *logger.Logger) *Tracker {
	return &Tracker{gw: gw, logger: log}
}

// MarkRead marks every message in msgs that is unread for actor. It makes
// one write per unread message and skips messages already read, so calling
// it again is a no-op. A failed write does not stop the others; the
// failures are joined into the returned error.
func (t *Tracker) MarkRead(ctx context.Context, msgs []model.Message, actor string) (int, error) {
	var (
		updated int
		errs    []error
	)

	for i := range msgs {
		m := &msgs[i]
		if !m.UnreadFor(actor) {
			continue
		}

		readBy := model.MergeMembers(m.ReadBy, actor)
		if _, err := t.gw.Update(ctx, model.EntityMessage, m.ID, map[string]any{"read_by": readBy}); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark message %s read: %w", m.ID, err))
			continue
		}
		m.ReadBy = readBy
		updated++
	}

	if updated > 0 {
		metrics.ReadMarksTotal.Add(float64(updated))
		if t.OnChange != nil {
			t.OnChange(ctx, actor)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		t.logger.Warn("some messages could not be marked read",
			zap.String("actor", actor),
			zap.Int("updated", updated),
			zap.Int("failed", len(errs)),
		)
	}
	return updated, err
}

// UnreadCount returns how many of msgs are unread for actor.
func UnreadCount(msgs []model.Message, actor string) int {
	n := 0
	for i := range msgs {
		if msgs[i].UnreadFor(actor) {
			n++
		}
	}
	return n
}

// Counts are unread totals across a user's conversations.
type Counts struct {
	ByConversation map[string]int `json:"by_conversation"`
	Total          int            `json:"total"`
}

// Counts fetches each conversation's messages and counts those unread for
// actor. A conversation whose messages cannot be fetched counts as zero.
func (t *Tracker) Counts(ctx context.Context, conversations []model.Conversation, actor string) Counts {
	out := Counts{ByConversation: make(map[string]int, len(conversations))}
	for _, c := range conversations {
		msgs, err := gateway.ListAs[model.Message](ctx, t.gw, model.EntityMessage, gateway.Query{
			Filter: map[string]any{"conversation_id": c.ID},
		})
		if err != nil {
			t.logger.Warn("failed to count unread messages",
				zap.String("conversation_id", c.ID),
				zap.Error(err),
			)
			out.ByConversation[c.ID] = 0
			continue
		}
		n := UnreadCount(msgs, actor)
		out.ByConversation[c.ID] = n
		out.Total += n
	}
	return out
}
