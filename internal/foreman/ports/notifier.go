package ports

import (
	"context"

	"github.com/modulab/foreman/internal/foreman"
)

// Notifier delivers outbound notifications. Callers treat delivery failure
// as log-only; a notifier error never propagates past the emitting service.
type Notifier interface {
	Notify(ctx context.Context, n foreman.Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n foreman.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n foreman.Notification) error {
	return f(ctx, n)
}
