package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/readstate"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	ann   = "ann@dig.org"
	bob   = "bob@dig.org"
	carol = "carol@dig.org"
	admin = "admin@dig.org"
)

type fixture struct {
	gw        *gateway.Memory
	tracker   *readstate.Tracker
	users     *UserService
	convs     *ConversationService
	msgs      *MessageService
	artifacts *ArtifactService
	importer  *Importer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()
	gw := gateway.NewMemory()
	tracker := readstate.New(gw, log)
	users := NewUserService(gw, log)
	convs := NewConversationService(gw, users, tracker, log)
	msgs := NewMessageService(gw, convs, tracker, log)
	return &fixture{
		gw:        gw,
		tracker:   tracker,
		users:     users,
		convs:     convs,
		msgs:      msgs,
		artifacts: NewArtifactService(gw, convs, msgs, log),
		importer:  NewImporter(gw, log),
	}
}

func as(email string) context.Context {
	return gateway.WithActor(context.Background(), email)
}

func (f *fixture) user(t *testing.T, email, name string, role model.Role) *model.User {
	t.Helper()
	u, err := gateway.CreateAs[model.User](as(email), f.gw, model.EntityUser, map[string]any{
		"email":     email,
		"full_name": name,
		"role":      role,
	})
	require.NoError(t, err)
	return u
}

// countWrites installs a write hook and returns a func reporting the
// number of writes since.
func (f *fixture) countWrites() func() int {
	n := 0
	f.gw.SetWriteHook(func(op gateway.Op, entity, id string) error {
		n++
		return nil
	})
	return func() int { return n }
}

func ptr[T any](v T) *T { return &v }
