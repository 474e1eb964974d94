package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

// timestampLayout keeps a fixed-width fraction so stamps also order
// correctly as plain strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// systemFields are stamped by the backend and never taken from callers.
var systemFields = []string{"id", "created_date", "updated_date", "created_by"}

type memRecord struct {
	seq  uint64
	data map[string]any
}

// Memory is an in-process Gateway used for local development and tests.
type Memory struct {
	mu      sync.RWMutex
	seq     uint64
	tables  map[string]map[string]*memRecord
	files   map[string][]byte
	events  *emitter
	now     func() time.Time
	ai      func(ctx context.Context, req AIRequest) (json.RawMessage, error)
	hook    func(op Op, entity, id string) error
	autoNew bool
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithAIHandler answers InvokeAI calls with fn.
func WithAIHandler(fn func(ctx context.Context, req AIRequest) (json.RawMessage, error)) MemoryOption {
	return func(m *Memory) { m.ai = fn }
}

// WithAutoProvision creates a plain user record the first time an unknown
// actor calls CurrentUser.
func WithAutoProvision() MemoryOption {
	return func(m *Memory) { m.autoNew = true }
}

// NewMemory creates an empty in-memory gateway.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables: make(map[string]map[string]*memRecord),
		files:  make(map[string][]byte),
		events: newEmitter(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetWriteHook installs fn to run before every create, update and delete.
// A non-nil error aborts the write. Tests use it to count and fail writes.
func (m *Memory) SetWriteHook(fn func(op Op, entity, id string) error) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

// File returns an uploaded file by URL.
func (m *Memory) File(url string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[url]
	return b, ok
}

// List returns records of entity matching q.
func (m *Memory) List(ctx context.Context, entity string, q Query) ([]json.RawMessage, error) {
	filter, err := toGeneric(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	var fm map[string]any
	if filter != nil {
		fm = filter.(map[string]any)
	}

	m.mu.RLock()
	var recs []*memRecord
	for _, r := range m.tables[entity] {
		if matches(r.data, fm) {
			recs = append(recs, r)
		}
	}
	m.mu.RUnlock()

	field, desc := strings.TrimPrefix(q.Sort, "-"), strings.HasPrefix(q.Sort, "-")
	sort.SliceStable(recs, func(i, j int) bool {
		c := 0
		if field != "" {
			c = compareValues(recs[i].data[field], recs[j].data[field])
		}
		if c == 0 {
			c = cmpUint(recs[i].seq, recs[j].seq)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}

	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		b, err := json.Marshal(r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Get returns a record by id.
func (m *Memory) Get(ctx context.Context, entity, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tables[entity][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return json.Marshal(r.data)
}

// Create stores a new record, stamping id, timestamps and author.
func (m *Memory) Create(ctx context.Context, entity string, data any) (json.RawMessage, error) {
	rec, err := toMap(data)
	if err != nil {
		return nil, err
	}
	for _, f := range systemFields {
		delete(rec, f)
	}

	id := uuid.Must(uuid.NewV7()).String()
	if err := m.runHook(OpCreate, entity, id); err != nil {
		return nil, err
	}

	ts := m.now().UTC().Format(timestampLayout)
	rec["id"] = id
	rec["created_date"] = ts
	rec["updated_date"] = ts
	rec["created_by"] = ActorFrom(ctx)

	m.mu.Lock()
	m.seq++
	if m.tables[entity] == nil {
		m.tables[entity] = make(map[string]*memRecord)
	}
	m.tables[entity][id] = &memRecord{seq: m.seq, data: rec}
	b, err := json.Marshal(rec)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.events.emit(Change{Entity: entity, Op: OpCreate, ID: id, Data: b})
	return b, nil
}

// Update merges patch into an existing record.
func (m *Memory) Update(ctx context.Context, entity, id string, patch any) (json.RawMessage, error) {
	p, err := toMap(patch)
	if err != nil {
		return nil, err
	}
	for _, f := range systemFields {
		delete(p, f)
	}

	if err := m.runHook(OpUpdate, entity, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	r, ok := m.tables[entity][id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	merged := make(map[string]any, len(r.data)+len(p))
	for k, v := range r.data {
		merged[k] = v
	}
	for k, v := range p {
		merged[k] = v
	}
	merged["updated_date"] = m.now().UTC().Format(timestampLayout)
	r.data = merged
	b, err := json.Marshal(merged)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.events.emit(Change{Entity: entity, Op: OpUpdate, ID: id, Data: b})
	return b, nil
}

// Delete removes a record.
func (m *Memory) Delete(ctx context.Context, entity, id string) error {
	if err := m.runHook(OpDelete, entity, id); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.tables[entity][id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	delete(m.tables[entity], id)
	m.mu.Unlock()

	m.events.emit(Change{Entity: entity, Op: OpDelete, ID: id})
	return nil
}

// UploadFile keeps the file in memory and returns a memory:// URL.
func (m *Memory) UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	url := fmt.Sprintf("memory://files/%s/%s", uuid.Must(uuid.NewV7()).String(), name)
	m.mu.Lock()
	m.files[url] = append([]byte(nil), data...)
	m.mu.Unlock()
	return url, nil
}

// InvokeAI delegates to the configured AI handler.
func (m *Memory) InvokeAI(ctx context.Context, req AIRequest) (json.RawMessage, error) {
	if m.ai == nil {
		return nil, ErrNotSupported
	}
	return m.ai(ctx, req)
}

// CurrentUser looks up the user whose email matches the context actor.
func (m *Memory) CurrentUser(ctx context.Context) (*model.User, error) {
	actor := ActorFrom(ctx)
	if actor == "" {
		return nil, ErrUnauthenticated
	}
	users, err := ListAs[model.User](ctx, m, model.EntityUser, Query{Filter: map[string]any{"email": actor}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(users) == 1 {
		return &users[0], nil
	}
	if !m.autoNew {
		return nil, ErrUnauthenticated
	}
	return CreateAs[model.User](ctx, m, model.EntityUser, map[string]any{
		"email": actor,
		"role":  model.RoleUser,
	})
}

// UpdateCurrentUser patches the context actor's user record.
func (m *Memory) UpdateCurrentUser(ctx context.Context, patch any) (*model.User, error) {
	me, err := m.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return UpdateAs[model.User](ctx, m, model.EntityUser, me.ID, patch)
}

// Subscribe delivers every change to entity until unsubscribed or ctx ends.
func (m *Memory) Subscribe(ctx context.Context, entity string, fn func(Change)) (func(), error) {
	unsub := m.events.on(entity, fn)
	go func() {
		<-ctx.Done()
		unsub()
	}()
	return unsub, nil
}

func (m *Memory) runHook(op Op, entity, id string) error {
	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook(op, entity, id)
}

func toMap(v any) (map[string]any, error) {
	g, err := toGeneric(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	mp, ok := g.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	return mp, nil
}

// toGeneric round-trips v through JSON so values compare the way the
// backend sees them.
func toGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(rec, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if arr, isArr := got.([]any); isArr {
			if _, wantArr := want.([]any); !wantArr {
				found := false
				for _, e := range arr {
					if reflect.DeepEqual(e, want) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
				continue
			}
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case string:
		if y, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, x)
			tb, errB := time.Parse(time.RFC3339Nano, y)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
