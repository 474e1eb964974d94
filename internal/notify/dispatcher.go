package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// DefaultPreviewLength is the number of characters kept in a body preview.
const DefaultPreviewLength = 100

// Sink displays notifications to the user.
type Sink interface {
	// Permitted reports whether the user granted notification permission.
	Permitted() bool
	Deliver(ctx context.Context, n model.Notification) error
}

// Preferences returns the current user's notification preferences.
type Preferences func() model.NotificationPreferences

// Dispatcher turns detected records into notifications for one user.
type Dispatcher struct {
	sink       Sink
	prefs      Preferences
	previewLen int
	logger     *logger.Logger

	mu        sync.Mutex
	focus     string
	delivered map[string]struct{}
}

// NewDispatcher creates a dispatcher. previewLen <= 0 uses
// DefaultPreviewLength.
func NewDispatcher(sink Sink, prefs Preferences, previewLen int, log *logger.Logger) *Dispatcher {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	if prefs == nil {
		prefs = model.DefaultPreferences
	}
	return &Dispatcher{
		sink:       sink,
		prefs:      prefs,
		previewLen: previewLen,
		logger:     log,
		delivered:  make(map[string]struct{}),
	}
}

// SetFocus records the context the user is looking at. Notifications for it
// are suppressed. An empty id clears the focus.
func (d *Dispatcher) SetFocus(contextID string) {
	d.mu.Lock()
	d.focus = contextID
	d.mu.Unlock()
}

// Focus returns the focused context.
func (d *Dispatcher) Focus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focus
}

// Delivered reports whether recordID was already notified.
func (d *Dispatcher) Delivered(recordID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.delivered[recordID]
	return ok
}

// Outcome is what the dispatcher did with a notification.
type Outcome int

const (
	Delivered Outcome = iota
	Focused
	Duplicate
	NoPermission
	Disabled
)

// Handled reports whether the record is settled for this dispatcher: shown,
// already shown, or seen in the focused context. Records held back by
// permission or preferences are not handled and stay eligible.
func (o Outcome) Handled() bool {
	return o == Delivered || o == Focused || o == Duplicate
}

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Focused:
		return "focused"
	case Duplicate:
		return "duplicate"
	case NoPermission:
		return "no_permission"
	case Disabled:
		return "disabled"
	}
	return "unknown"
}

// Notify emits n unless a rule suppresses it, and reports whether it was
// handed to the sink. Sink failures are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) bool {
	return d.Dispatch(ctx, n) == Delivered
}

// Dispatch is Notify reporting the outcome. A sink failure still counts as
// Delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification) Outcome {
	category := string(n.Category)
	out := d.dispatch(ctx, n)
	if out != Delivered {
		metrics.RecordNotification(category, out.String())
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, n model.Notification) Outcome {
	category := string(n.Category)

	d.mu.Lock()
	if _, ok := d.delivered[n.RecordID]; ok {
		d.mu.Unlock()
		return Duplicate
	}
	if n.ContextID != "" && n.ContextID == d.focus {
		d.delivered[n.RecordID] = struct{}{}
		d.mu.Unlock()
		return Focused
	}
	d.mu.Unlock()

	if !d.sink.Permitted() {
		return NoPermission
	}
	if !d.prefs().Allows(n.Category) {
		return Disabled
	}

	d.mu.Lock()
	if _, ok := d.delivered[n.RecordID]; ok {
		d.mu.Unlock()
		return Duplicate
	}
	d.delivered[n.RecordID] = struct{}{}
	d.mu.Unlock()

	n.Body = Preview(n.Body, d.previewLen)
	if n.ContextName != "" {
		n.Body = n.ContextName + ": " + n.Body
	}

	if err := d.deliver(ctx, n); err != nil {
		metrics.RecordNotification(category, "sink_error")
		d.logger.Warn("notification delivery failed",
			zap.String("record_id", n.RecordID),
			zap.String("category", category),
			zap.Error(err),
		)
		return Delivered
	}

	metrics.RecordNotification(category, "delivered")
	return Delivered
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return d.sink.Deliver(ctx, n)
}

// Preview shortens s to n characters, appending "..." when it was cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
