package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewEnvelope_Defaults(t *testing.T) {
	env, err := NewEnvelope(TypePing, "agent-a", "agent-b", nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.AIP != Version {
		t.Errorf("AIP = %q, want %q", env.AIP, Version)
	}
	if env.ID == "" {
		t.Error("ID should be set")
	}
	if string(env.Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", env.Payload)
	}
	if env.ReplyTo != "" || env.CorrelationID != "" || env.Signature != "" {
		t.Errorf("optional fields should be empty: %+v", env)
	}
	ts, err := env.Time()
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", ts.Location())
	}
	if !strings.HasSuffix(env.Timestamp, "Z") {
		t.Errorf("Timestamp = %q, want Z suffix", env.Timestamp)
	}
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		env, err := NewEnvelope(TypeTaskRequest, "a", "b", map[string]any{"capability": "x"})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		if seen[env.ID] {
			t.Fatalf("duplicate id %s after %d envelopes", env.ID, i)
		}
		seen[env.ID] = true
	}
}

func TestNewEnvelope_Options(t *testing.T) {
	env, err := NewEnvelope(TypeTaskResult, "a", "b", map[string]any{"ok": true},
		WithReplyTo("req-1"), WithCorrelationID("conv-9"))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.ReplyTo != "req-1" {
		t.Errorf("ReplyTo = %q, want req-1", env.ReplyTo)
	}
	if env.CorrelationID != "conv-9" {
		t.Errorf("CorrelationID = %q, want conv-9", env.CorrelationID)
	}
}

func TestNewEnvelope_DoesNotMutatePayload(t *testing.T) {
	payload := map[string]any{"capability": "echo", "input": map[string]any{"message": "hi"}}
	if _, err := NewEnvelope(TypeTaskRequest, "a", "b", payload); err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	want := map[string]any{"capability": "echo", "input": map[string]any{"message": "hi"}}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("payload mutated (-want +got):\n%s", diff)
	}
}

func TestNewEnvelope_Rejects(t *testing.T) {
	if _, err := NewEnvelope(MessageType("task.explode"), "a", "b", nil); err == nil {
		t.Error("expected error for undeclared type")
	}
	if _, err := NewEnvelope(TypePing, "a", "b", []int{1, 2}); err == nil {
		t.Error("expected error for non-object payload")
	}
}

func TestCanonicalForm_FieldOrder(t *testing.T) {
	env := Envelope{
		AIP:       Version,
		ID:        "id-1",
		Type:      TypeTaskRequest,
		From:      "a",
		To:        "b",
		Timestamp: "2026-01-02T03:04:05.000Z",
		Payload:   json.RawMessage(`{"z": 1, "a": {"y": "<b>", "b": 2}}`),
		Signature: "ed25519:xxx",
		ReplyTo:   "r",
	}
	got, err := env.CanonicalForm()
	if err != nil {
		t.Fatalf("CanonicalForm: %v", err)
	}
	want := `{"id":"id-1","type":"task.request","from":"a","to":"b","timestamp":"2026-01-02T03:04:05.000Z","payload":{"z":1,"a":{"y":"<b>","b":2}}}`
	if string(got) != want {
		t.Errorf("CanonicalForm =\n%s\nwant\n%s", got, want)
	}
}

func TestCanonicalForm_IgnoresSignatureAndIsStable(t *testing.T) {
	env, err := NewEnvelope(TypeTaskRequest, "a", "b", map[string]any{"capability": "echo"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	signed := env.WithSignature("ed25519:abc")

	c1, _ := env.CanonicalForm()
	c2, _ := env.CanonicalForm()
	c3, _ := signed.CanonicalForm()
	if string(c1) != string(c2) {
		t.Error("CanonicalForm is not stable across calls")
	}
	if string(c1) != string(c3) {
		t.Error("CanonicalForm should not depend on signature")
	}
	if env.Signature != "" {
		t.Error("WithSignature must not modify the receiver")
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	bare, err := NewEnvelope(TypePing, "a", "b", nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	full, err := NewEnvelope(TypeTaskError, "a", "b",
		TaskErrorPayload{Code: ErrInternal, Message: "boom"},
		WithReplyTo("req"), WithCorrelationID("corr"))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	full = full.WithSignature("ed25519:c2ln")

	for _, env := range []Envelope{bare, full} {
		data, err := env.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if diff := cmp.Diff(env, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestMarshal_OmitsEmptyOptionalFields(t *testing.T) {
	env, _ := NewEnvelope(TypePing, "a", "b", nil)
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{"signature", "replyTo", "correlationId"} {
		if strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("wire form should omit empty %s: %s", key, data)
		}
	}
	for _, key := range []string{"aip", "id", "type", "from", "to", "timestamp", "payload"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("wire form missing %s: %s", key, data)
		}
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"aip":`},
		{"unknown type", `{"aip":"0.1","id":"1","type":"task.explode","from":"a","to":"b","timestamp":"t","payload":{}}`},
		{"array payload", `{"aip":"0.1","id":"1","type":"ping","from":"a","to":"b","timestamp":"t","payload":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tt.body)); err == nil {
				t.Errorf("Unmarshal(%s) should fail", tt.body)
			}
		})
	}
}

func TestUnmarshal_NullPayloadBecomesEmpty(t *testing.T) {
	env, err := Unmarshal([]byte(`{"aip":"0.1","id":"1","type":"ping","from":"a","to":"b","timestamp":"t","payload":null}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(env.Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", env.Payload)
	}
}

func TestValidateShape(t *testing.T) {
	full := `{"aip":"0.1","id":"1","type":"ping","from":"a","to":"b","timestamp":"t","payload":{}}`
	if !ValidateShape([]byte(full)) {
		t.Error("complete envelope should be valid")
	}
	// Types and legality are not checked.
	if !ValidateShape([]byte(`{"aip":1,"id":2,"type":"nope","from":null,"to":"b","timestamp":"t","payload":"x"}`)) {
		t.Error("shape check should only look for presence")
	}

	for _, field := range requiredFields {
		var m map[string]any
		_ = json.Unmarshal([]byte(full), &m)
		delete(m, field)
		b, _ := json.Marshal(m)
		if ValidateShape(b) {
			t.Errorf("envelope without %q should be invalid", field)
		}
	}

	for _, raw := range []string{``, `[]`, `"x"`, `{"aip":`} {
		if ValidateShape([]byte(raw)) {
			t.Errorf("ValidateShape(%q) = true, want false", raw)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	env, _ := NewEnvelope(TypeTaskRequest, "a", "b", TaskRequestPayload{
		Capability: "echo",
		Input:      map[string]any{"message": "hello"},
	})
	var p TaskRequestPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Capability != "echo" || p.Input["message"] != "hello" {
		t.Errorf("decoded payload = %+v", p)
	}
}

func TestMessageType_Valid(t *testing.T) {
	for _, mt := range MessageTypes {
		if !mt.Valid() {
			t.Errorf("%s should be valid", mt)
		}
	}
	if MessageType("task.unknown").Valid() {
		t.Error("task.unknown should not be valid")
	}
	if len(MessageTypes) != 13 {
		t.Errorf("len(MessageTypes) = %d, want 13", len(MessageTypes))
	}
}
