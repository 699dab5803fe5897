package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validBuilder() *ManifestBuilder {
	return NewManifestBuilder().
		Agent(AgentInfo{Name: "Echo Agent", Description: "echoes input", Operator: "acme"}).
		Capability(Capability{ID: "echo", Name: "Echo", Tags: []string{"test"}}).
		Capability(Capability{
			ID:          "translate",
			Name:        "Translate",
			InputSchema: map[string]any{"type": "object"},
			Pricing:     &Pricing{Model: PricingPerTask, Amount: "0.01", Currency: "USD"},
		}).
		Endpoints("http://localhost:4000/aip", "http://localhost:4000/health")
}

func TestManifestBuilder_Build(t *testing.T) {
	m, err := validBuilder().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.AIP != Version {
		t.Errorf("AIP = %q, want %q", m.AIP, Version)
	}
	if m.Agent.ID == "" {
		t.Error("agent id should default to a generated id")
	}
	if got := m.CapabilityIDs(); !cmp.Equal(got, []string{"echo", "translate"}) {
		t.Errorf("CapabilityIDs = %v, want [echo translate]", got)
	}
}

func TestManifestBuilder_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		builder *ManifestBuilder
		want    string
	}{
		{
			name: "no name",
			builder: NewManifestBuilder().
				Capability(Capability{ID: "x", Name: "X"}).
				Endpoints("http://a/aip", ""),
			want: "agent name required",
		},
		{
			name: "no endpoint",
			builder: NewManifestBuilder().
				Agent(AgentInfo{Name: "A"}).
				Capability(Capability{ID: "x", Name: "X"}),
			want: "AIP endpoint required",
		},
		{
			name: "no capabilities",
			builder: NewManifestBuilder().
				Agent(AgentInfo{Name: "A"}).
				Endpoints("http://a/aip", ""),
			want: "at least one capability required",
		},
		{
			name: "duplicate capability",
			builder: NewManifestBuilder().
				Agent(AgentInfo{Name: "A"}).
				Capability(Capability{ID: "x", Name: "X"}).
				Capability(Capability{ID: "x", Name: "X again"}).
				Endpoints("http://a/aip", ""),
			want: "duplicate id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if err == nil {
				t.Fatal("expected build error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestManifestBuilder_ReportsAllProblems(t *testing.T) {
	_, err := NewManifestBuilder().Build()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("Problems = %v, want 3 entries", verr.Problems)
	}
}

func TestManifestBuilder_AgentIDOverride(t *testing.T) {
	m, err := validBuilder().AgentID("agent-42").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Agent.ID != "agent-42" {
		t.Errorf("Agent.ID = %q, want agent-42", m.Agent.ID)
	}
}

func TestManifestBuilder_BuildIsolatesResult(t *testing.T) {
	b := validBuilder()
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b.Capability(Capability{ID: "later", Name: "Later"})
	if len(m.Capabilities) != 2 {
		t.Errorf("built manifest changed after builder mutation: %v", m.CapabilityIDs())
	}
}

func TestManifest_WireRoundTrip(t *testing.T) {
	m, err := validBuilder().
		AuthSchemes("bearer").
		Trust(TrustConfig{PublicKey: "ed25519:AAAA"}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	rebuilt, err := BuilderFrom(got).Build()
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !cmp.Equal(rebuilt.CapabilityIDs(), m.CapabilityIDs()) {
		t.Errorf("capability ids = %v, want %v", rebuilt.CapabilityIDs(), m.CapabilityIDs())
	}
}

func TestManifest_WireForm(t *testing.T) {
	m, err := validBuilder().AgentID("a1").AuthSchemes("bearer").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, _ := json.Marshal(m)

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if wire["aip"] != Version {
		t.Errorf("aip = %v", wire["aip"])
	}
	auth, ok := wire["auth"].(map[string]any)
	if !ok || len(auth["schemes"].([]any)) != 1 {
		t.Errorf("auth = %v, want {schemes:[bearer]}", wire["auth"])
	}
	if _, ok := wire["trust"]; ok {
		t.Error("trust should be omitted when unset")
	}
	agent := wire["agent"].(map[string]any)
	if _, ok := agent["homepage"]; ok {
		t.Error("empty homepage should be omitted")
	}
	caps := wire["capabilities"].([]any)
	first := caps[0].(map[string]any)
	if _, ok := first["inputSchema"]; ok {
		t.Error("empty inputSchema should be omitted")
	}
	second := caps[1].(map[string]any)
	if _, ok := second["inputSchema"]; !ok {
		t.Error("inputSchema should be present when set")
	}
}

func TestParseManifest_Defaults(t *testing.T) {
	m, err := ParseManifest([]byte(`{"agent":{"id":"a","name":"A"},"capabilities":[{"id":"x","name":"X"}],"endpoints":{"aip":"http://a/aip"}}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.AIP != Version {
		t.Errorf("AIP = %q, want default %q", m.AIP, Version)
	}
	if m.AuthSchemes != nil || m.Trust != nil {
		t.Errorf("optional fields should be empty: %+v", m)
	}
	if _, ok := m.Capability("x"); !ok {
		t.Error("capability x not found")
	}
}
