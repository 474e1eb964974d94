// Package notify decides which records are new to a user and turns them
// into at-most-once notifications.
package notify

import (
	"sync"
	"time"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

// Identifiable is anything with a stable record identifier.
type Identifiable interface {
	Identity() string
}

// Snapshot is the last full fetch of a collection.
type Snapshot[T Identifiable] struct {
	ids     map[string]struct{}
	items   []T
	TakenAt time.Time
}

// NewSnapshot captures items.
func NewSnapshot[T Identifiable](items []T) *Snapshot[T] {
	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		ids[it.Identity()] = struct{}{}
	}
	return &Snapshot[T]{ids: ids, items: items, TakenAt: time.Now()}
}

// Has reports whether id was present.
func (s *Snapshot[T]) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Items returns the captured items.
func (s *Snapshot[T]) Items() []T {
	return s.items
}

// Len returns the number of captured items.
func (s *Snapshot[T]) Len() int {
	return len(s.items)
}

// Diff is the result of comparing two snapshots.
type Diff[T Identifiable] struct {
	// New holds current items absent from the previous snapshot that pass
	// the qualifier, in current order.
	New []T
	// Removed holds ids present before and gone now.
	Removed []string
}

// Detect compares current against previous by identifier. A nil previous
// snapshot means the collection was never loaded, and nothing is new.
// qualifies may be nil to accept every new item.
func Detect[T Identifiable](previous *Snapshot[T], current []T, qualifies func(T) bool) Diff[T] {
	var d Diff[T]
	if previous == nil {
		return d
	}

	seen := make(map[string]struct{}, len(current))
	for _, it := range current {
		id := it.Identity()
		seen[id] = struct{}{}
		if previous.Has(id) {
			continue
		}
		if qualifies == nil || qualifies(it) {
			d.New = append(d.New, it)
		}
	}

	for _, it := range previous.items {
		if _, ok := seen[it.Identity()]; !ok {
			d.Removed = append(d.Removed, it.Identity())
		}
	}

	return d
}

// Detector keeps the previous snapshot between polls of one collection.
type Detector[T Identifiable] struct {
	mu   sync.Mutex
	prev *Snapshot[T]
}

// Observe diffs current against the previous observation and then
// remembers current. The first call returns nothing new.
func (d *Detector[T]) Observe(current []T, qualifies func(T) bool) Diff[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	diff := Detect(d.prev, current, qualifies)
	d.prev = NewSnapshot(current)
	return diff
}

// Reset forgets the previous snapshot, so the next Observe is a first load.
func (d *Detector[T]) Reset() {
	d.mu.Lock()
	d.prev = nil
	d.mu.Unlock()
}

// NewMessageFor qualifies messages that are unread by actor and written by
// someone else.
func NewMessageFor(actor string) func(model.Message) bool {
	return func(m model.Message) bool {
		return m.UnreadFor(actor)
	}
}

// NewSubmissionFor qualifies artifacts submitted by someone other than actor.
func NewSubmissionFor(actor string) func(model.Artifact) bool {
	return func(a model.Artifact) bool {
		return a.CreatedBy != actor
	}
}
