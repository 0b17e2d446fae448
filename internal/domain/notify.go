package domain

import "context"

// Notifier delivers events to the configured channels. Implementations are
// fire-and-forget: Notify must return promptly and never propagate delivery
// failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}
