package ports

import "context"

// SessionGateway is the session hub as seen by the scheduler and the
// watchdogs. The scheduler hands execute commands to it; the stale-session
// watchdog consults member counts when deciding which modules to reap.
type SessionGateway interface {
	// SendToModule serializes message as JSON and fans it out to every
	// session bound to the module. An empty group drops silently.
	SendToModule(ctx context.Context, moduleID int, message any) error

	// CloseModule instructs every session bound to the module to close
	// cleanly. Each closing session unbinds before leaving its group.
	CloseModule(ctx context.Context, moduleID int) error

	// SessionCount reports how many sessions are currently bound to the
	// module (normally zero or one).
	SessionCount(moduleID int) int
}
