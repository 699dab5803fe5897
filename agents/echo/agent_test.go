package echo

import (
	"context"
	"testing"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/google/go-cmp/cmp"
)

func TestAgent_HandleTask(t *testing.T) {
	a := New()
	input := map[string]any{"message": "hello AIP"}

	got, err := a.HandleTask(context.Background(), CapabilityID, input, protocol.Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"status": "completed",
		"output": map[string]any{"echo": map[string]any{"message": "hello AIP"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("HandleTask mismatch (-want +got):\n%s", diff)
	}
}

func TestAgent_EmptyInput(t *testing.T) {
	got, err := New().HandleTask(context.Background(), CapabilityID, map[string]any{}, protocol.Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := got["output"].(map[string]any)
	if !ok {
		t.Fatalf("output = %T, want map", got["output"])
	}
	if echoed, ok := out["echo"].(map[string]any); !ok || len(echoed) != 0 {
		t.Errorf("echo = %v, want empty map", out["echo"])
	}
}

func TestCapability(t *testing.T) {
	c := Capability()
	if c.ID != CapabilityID {
		t.Errorf("ID = %q, want %q", c.ID, CapabilityID)
	}
	if c.Name == "" {
		t.Error("Name should be set")
	}
	if c.Pricing == nil || c.Pricing.Model != protocol.PricingFree {
		t.Errorf("Pricing = %+v, want free", c.Pricing)
	}
}

var _ protocol.Handler = (*Agent)(nil)
