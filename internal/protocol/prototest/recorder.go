// Package prototest provides shared test doubles for the protocol package.
package prototest

import (
	"context"
	"sync"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

// Call is one recorded handler invocation.
type Call struct {
	Capability string
	Input      map[string]any
	Envelope   protocol.Envelope
}

// Recorder is a protocol.Handler that records every call and answers with
// Result or Err.
type Recorder struct {
	Result map[string]any
	Err    error

	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) HandleTask(_ context.Context, capability string, input map[string]any, env protocol.Envelope) (map[string]any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Capability: capability, Input: input, Envelope: env})
	r.mu.Unlock()
	return r.Result, r.Err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
