// Package notify fans layout events out to the configured transports.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/koios/esphome-designer/pkg/models"
)

// Notifier publishes layout events
type Notifier interface {
	Notify(ctx context.Context, event *models.LayoutEvent) error
}

// Handler consumes layout events delivered by a subscriber
type Handler interface {
	HandleLayoutEvent(ctx context.Context, event *models.LayoutEvent) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, event *models.LayoutEvent) error

// HandleLayoutEvent calls f(ctx, event)
func (f HandlerFunc) HandleLayoutEvent(ctx context.Context, event *models.LayoutEvent) error {
	return f(ctx, event)
}

type namedNotifier struct {
	name     string
	notifier Notifier
}

// Multi delivers each event to every registered notifier. A failing
// notifier does not stop delivery to the others.
type Multi struct {
	notifiers []namedNotifier
}

// NewMulti creates an empty fan-out notifier
func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a notifier under a name used in error messages
func (m *Multi) Add(name string, n Notifier) {
	m.notifiers = append(m.notifiers, namedNotifier{name: name, notifier: n})
}

// Len returns the number of registered notifiers
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify publishes to all notifiers and joins their failures
func (m *Multi) Notify(ctx context.Context, event *models.LayoutEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}
