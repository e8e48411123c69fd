// Package notify delivers announcement text to the configured destination.
package notify

import (
	"context"

	appLog "ctfcal/internal/log"
)

// Notifier delivers text best-effort. Callers log a returned error; they
// never retry.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, text string) error

func (f Func) Notify(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Log writes announcements to the application log. It is the fallback when
// no chat destination resolves.
type Log struct{}

func (Log) Notify(_ context.Context, text string) error {
	appLog.Info("announcement", "text", text)
	return nil
}
