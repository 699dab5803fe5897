package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/testkit"
	"github.com/google/go-cmp/cmp"
)

func manifest(t *testing.T, id, operator string, caps ...protocol.Capability) protocol.Manifest {
	t.Helper()
	b := protocol.NewManifestBuilder().
		AgentID(id).
		Agent(protocol.AgentInfo{Name: id + " agent", Operator: operator}).
		Endpoints("http://"+id+".local/aip", "")
	for _, c := range caps {
		b.Capability(c)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestClient_RegisterGetDeregister(t *testing.T) {
	reg := testkit.StartRegistry(t)
	c := NewClient(reg.URL + "/")
	ctx := context.Background()

	m := manifest(t, "translator", "acme", protocol.Capability{ID: "translate", Name: "Translate", Tags: []string{"nlp"}})
	ack, err := c.Register(ctx, m)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ack.ID != "translator" || ack.Status != "registered" {
		t.Errorf("Register ack = %+v", ack)
	}

	got, err := c.Get(ctx, "translator")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("Get manifest mismatch (-want +got):\n%s", diff)
	}

	if err := c.Deregister(ctx, "translator"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if ids := reg.Agents(); len(ids) != 0 {
		t.Errorf("registry still holds %v", ids)
	}

	_, err = c.Get(ctx, "translator")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("Get after deregister err = %v, want 404 StatusError", err)
	}
	if err := c.Deregister(ctx, "translator"); !errors.As(err, &se) {
		t.Errorf("second Deregister err = %v, want StatusError", err)
	}
}

func TestClient_Search(t *testing.T) {
	reg := testkit.StartRegistry(t)
	reg.Add(manifest(t, "alpha", "acme",
		protocol.Capability{ID: "translate", Name: "Translate Text", Tags: []string{"NLP"},
			Pricing: &protocol.Pricing{Model: protocol.PricingPerTask, Amount: "0.05", Currency: "USD"}},
		protocol.Capability{ID: "summarize", Name: "Summarize", Tags: []string{"nlp", "text"}},
	))
	reg.Add(manifest(t, "beta", "other",
		protocol.Capability{ID: "translate-legal", Name: "Legal Translation",
			Pricing: &protocol.Pricing{Model: protocol.PricingPerTask, Amount: "2.00", Currency: "USD"}},
	))
	c := NewClient(reg.URL)

	tests := []struct {
		name  string
		query Query
		want  []string // agent/capability
	}{
		{"all", Query{}, []string{"alpha/translate", "alpha/summarize", "beta/translate-legal"}},
		{"capability substring", Query{Capability: "translate"}, []string{"alpha/translate", "beta/translate-legal"}},
		{"name case-insensitive", Query{Capability: "LEGAL"}, []string{"beta/translate-legal"}},
		{"tags any match", Query{Tags: []string{"nlp"}}, []string{"alpha/translate", "alpha/summarize"}},
		{"max price", Query{Capability: "translate", MaxPrice: 1}, []string{"alpha/translate"}},
		{"operator", Query{Operator: "other"}, []string{"beta/translate-legal"}},
		{"no match", Query{Capability: "paint"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := c.Search(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			var got []string
			for _, r := range results {
				got = append(got, r.AgentID+"/"+r.Capability)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Search(%+v) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestClient_SearchResultFields(t *testing.T) {
	reg := testkit.StartRegistry(t)
	pricing := &protocol.Pricing{Model: protocol.PricingPerTask, Amount: "0.05", Currency: "USD"}
	reg.Add(manifest(t, "alpha", "", protocol.Capability{ID: "translate", Name: "Translate", Pricing: pricing}))

	results, err := NewClient(reg.URL).Search(context.Background(), Query{Capability: "translate"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if r.AgentName != "alpha agent" || r.Endpoint != "http://alpha.local/aip" || r.TrustScore != 0.5 {
		t.Errorf("result = %+v", r)
	}
	if diff := cmp.Diff(pricing, r.Pricing); diff != "" {
		t.Errorf("Pricing mismatch (-want +got):\n%s", diff)
	}
	if _, err := time.Parse(time.RFC3339, r.LastSeen); err != nil {
		t.Errorf("LastSeen = %q: %v", r.LastSeen, err)
	}
}

func TestClient_RegisterRejected(t *testing.T) {
	reg := testkit.StartRegistry(t)
	_, err := NewClient(reg.URL).Register(context.Background(), protocol.Manifest{Agent: protocol.AgentInfo{ID: "x"}})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", se.StatusCode)
	}
}

func TestQuery_Values(t *testing.T) {
	q := Query{Capability: "echo", Tags: []string{"a", "b"}, MaxPrice: 0.5, Operator: "acme"}
	want := "capability=echo&maxPrice=0.5&operator=acme&tags=a%2Cb"
	if got := q.values().Encode(); got != want {
		t.Errorf("values = %q, want %q", got, want)
	}
	if got := (Query{}).values().Encode(); got != "" {
		t.Errorf("empty query = %q, want empty", got)
	}
}

func TestClient_TransportErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL).Search(context.Background(), Query{}); err == nil {
		t.Error("undecodable response should fail")
	}

	ts.Close()
	if _, err := NewClient(ts.URL, WithTimeout(time.Second)).Search(context.Background(), Query{}); err == nil {
		t.Error("closed server should fail")
	}
}
