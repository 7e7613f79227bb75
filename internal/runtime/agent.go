package runtime

import "context"

// Agent is the capability contract the runtime schedules. Execute does the
// work inside the per-task workspace and returns an opaque success payload.
// Terminate asks the agent to stop; it is best effort and must be safe to
// call while Execute is in flight.
type Agent interface {
	Execute(ctx context.Context, workspace string) (map[string]any, error)
	Terminate(ctx context.Context) error
}

// AgentFunc adapts a bare function into an Agent with a no-op Terminate.
type AgentFunc func(ctx context.Context, workspace string) (map[string]any, error)

func (f AgentFunc) Execute(ctx context.Context, workspace string) (map[string]any, error) {
	return f(ctx, workspace)
}

func (f AgentFunc) Terminate(context.Context) error { return nil }
