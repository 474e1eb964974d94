// Package savedstore keeps each user's saved comparisons and reports in a
// local pebble database.
package savedstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// Version is the envelope version written by this package.
const Version = 1

// Kind is the type of a saved result.
type Kind string

const (
	KindComparison Kind = "comparison"
	KindReport     Kind = "report"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindComparison || k == KindReport
}

var (
	ErrNotFound           = errors.New("saved result not found")
	ErrUnsupportedVersion = errors.New("unsupported saved result version")
)

// Entry is one saved result.
type Entry struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Owner     string          `json:"owner"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type envelope struct {
	V         int             `json:"v"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Store is a pebble-backed saved results store.
type Store struct {
	db     *pebble.DB
	logger *logger.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to open saved store: %w", err)
	}
	log.Info("saved store opened", zap.String("path", path))
	return &Store{db: db, logger: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func prefix(owner string, kind Kind) []byte {
	return []byte(fmt.Sprintf("saved/v%d/%s/%s/", Version, url.PathEscape(owner), kind))
}

func key(owner string, kind Kind, id string) []byte {
	return append(prefix(owner, kind), url.PathEscape(id)...)
}

// Put stores data under owner/kind/id, replacing any previous value.
func (s *Store) Put(owner string, kind Kind, id string, createdAt time.Time, data any) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown saved result kind %q", kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode saved result: %w", err)
	}
	b, err := json.Marshal(envelope{V: Version, Kind: kind, CreatedAt: createdAt.UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("failed to encode saved result: %w", err)
	}
	if err := s.db.Set(key(owner, kind, id), b, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	s.logger.Debug("saved result stored", zap.String("owner", owner), zap.String("kind", string(kind)), zap.String("id", id))
	return nil
}

// Get returns one saved result.
func (s *Store) Get(owner string, kind Kind, id string) (*Entry, error) {
	v, closer, err := s.db.Get(key(owner, kind, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read saved result: %w", err)
	}
	defer closer.Close()
	return decode(owner, id, v)
}

// List returns owner's saved results of kind, newest first.
func (s *Store) List(owner string, kind Kind) ([]Entry, error) {
	p := prefix(owner, kind)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p})
	if err != nil {
		return nil, fmt.Errorf("failed to list saved results: %w", err)
	}
	defer iter.Close()

	var out []Entry
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, p) {
			break
		}
		id, err := url.PathUnescape(string(k[len(p):]))
		if err != nil {
			s.logger.Warn("skipping malformed saved key", zap.ByteString("key", k))
			continue
		}
		e, err := decode(owner, id, iter.Value())
		if err != nil {
			s.logger.Warn("skipping unreadable saved result", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, *e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list saved results: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Delete removes a saved result.
func (s *Store) Delete(owner string, kind Kind, id string) error {
	k := key(owner, kind, id)
	_, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read saved result: %w", err)
	}
	closer.Close()
	if err := s.db.Delete(k, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete saved result: %w", err)
	}
	return nil
}

func decode(owner, id string, v []byte) (*Entry, error) {
	var env envelope
	if err := json.Unmarshal(v, &env); err != nil {
		return nil, fmt.Errorf("failed to decode saved result: %w", err)
	}
	if env.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.V)
	}
	return &Entry{
		ID:        id,
		Kind:      env.Kind,
		Owner:     owner,
		CreatedAt: env.CreatedAt,
		Data:      append(json.RawMessage(nil), env.Data...),
	}, nil
}
