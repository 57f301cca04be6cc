package engine

import "errors"

// Fatal error classes. Tool-level failures (unresolvable references, bad
// arguments, tool exceptions) are absorbed into tool-role messages so the
// model can react; only these two propagate out of a turn as hard errors.
var (
	// ErrConfiguration marks an agent that cannot run at all: no model,
	// no instructions, or an unknown provider. Raised before any model call.
	ErrConfiguration = errors.New("invalid agent configuration")

	// ErrCompletionService marks a provider transport failure. The turn
	// aborts with no partial result and no credit consumed.
	ErrCompletionService = errors.New("completion service failure")
)
