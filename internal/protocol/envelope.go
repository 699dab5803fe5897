package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// TimestampLayout is the ISO-8601 UTC layout used for envelope timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// requiredFields are the wire keys every envelope must carry.
var requiredFields = []string{"aip", "id", "type", "from", "to", "timestamp", "payload"}

// Envelope is the unit of communication between agents. Values are treated as
// immutable once created; use WithSignature to attach a signature.
//
// Payload holds the raw JSON object so that key order survives decoding and
// re-encoding unchanged.
type Envelope struct {
	AIP           string          `json:"aip"`
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Signature     string          `json:"signature,omitempty"`
	ReplyTo       string          `json:"replyTo,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// EnvelopeOption sets an optional envelope field at creation time.
type EnvelopeOption func(*Envelope)

// WithReplyTo correlates the new envelope with the id of the one it answers.
func WithReplyTo(id string) EnvelopeOption {
	return func(e *Envelope) { e.ReplyTo = id }
}

// WithCorrelationID groups the envelope into a multi-message exchange.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) { e.CorrelationID = id }
}

// NewEnvelope creates an envelope with a fresh random id and the current UTC
// time. payload is encoded to JSON and must encode to an object; nil yields
// an empty object.
func NewEnvelope(t MessageType, from, to string, payload any, opts ...EnvelopeOption) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("unknown message type %q", string(t))
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		AIP:       Version,
		ID:        uuid.NewString(),
		Type:      t,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC().Format(TimestampLayout),
		Payload:   raw,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := marshalJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	return compactObject(raw)
}

// compactObject returns a compacted copy of raw, which must be a JSON object.
// A JSON null becomes an empty object.
func compactObject(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if !gjson.ParseBytes(trimmed).IsObject() {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compact payload: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Time parses the envelope timestamp.
func (e Envelope) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// WithSignature returns a copy of e carrying sig.
func (e Envelope) WithSignature(sig string) Envelope {
	e.Signature = sig
	return e
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// CanonicalForm returns the deterministic serialization used as signing
// input: the fields id, type, from, to, timestamp and payload in that order,
// without insignificant whitespace. Payload keys keep their stored order.
func (e Envelope) CanonicalForm() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range []struct {
		key string
		val string
	}{
		{"id", e.ID},
		{"type", string(e.Type)},
		{"from", e.From},
		{"to", e.To},
		{"timestamp", e.Timestamp},
	} {
		if i > 0 {
			buf.WriteByte(',')
		}
		val, err := marshalJSON(f.val)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"` + f.key + `":`)
		buf.Write(val)
	}
	buf.WriteString(`,"payload":`)
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Marshal encodes the envelope in wire form. Empty optional fields are
// omitted.
func (e Envelope) Marshal() ([]byte, error) {
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("{}")
	}
	b, err := marshalJSON(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a wire-form envelope. Absent optional fields are empty.
// The payload must be a JSON object.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	payload, err := compactObject(env.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	env.Payload = payload
	return env, nil
}

// ValidateShape reports whether raw is a JSON object carrying every required
// envelope field. Field types and the legality of type are not checked.
func ValidateShape(raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return false
	}
	for _, key := range requiredFields {
		if !doc.Get(key).Exists() {
			return false
		}
	}
	return true
}
