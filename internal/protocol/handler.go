package protocol

import "context"

// Handler performs the work behind one capability. It receives the capability
// id, the task input and the request envelope, and returns the result payload.
// Returning a *TaskError selects the error code sent back to the requester.
type Handler interface {
	HandleTask(ctx context.Context, capability string, input map[string]any, env Envelope) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, capability string, input map[string]any, env Envelope) (map[string]any, error)

// HandleTask calls f.
func (f HandlerFunc) HandleTask(ctx context.Context, capability string, input map[string]any, env Envelope) (map[string]any, error) {
	return f(ctx, capability, input, env)
}
