// Package echo provides the built-in echo capability served by aip serve.
package echo

import (
	"context"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

// CapabilityID is the capability id the echo agent answers to.
const CapabilityID = "echo"

// Agent returns every task input back to the caller.
type Agent struct{}

// New creates an echo Agent.
func New() *Agent { return &Agent{} }

// Capability describes the echo capability for a manifest.
func Capability() protocol.Capability {
	return protocol.Capability{
		ID:          CapabilityID,
		Name:        "Echo",
		Description: "Returns the task input unchanged",
		InputSchema: map[string]any{"type": "object"},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string"},
				"output": map[string]any{"type": "object"},
			},
		},
		EstimatedDuration: "PT1S",
		Pricing:           &protocol.Pricing{Model: protocol.PricingFree},
		Tags:              []string{"test", "diagnostics"},
	}
}

// HandleTask answers {"status":"completed","output":{"echo":input}}.
func (a *Agent) HandleTask(_ context.Context, _ string, input map[string]any, _ protocol.Envelope) (map[string]any, error) {
	return map[string]any{
		"status": "completed",
		"output": map[string]any{"echo": input},
	}, nil
}
