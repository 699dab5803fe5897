package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/trust"
	"github.com/tidwall/gjson"
)

// Dispatcher resolves one inbound envelope into exactly one response
// envelope. It is safe for concurrent use once its registry is sealed.
type Dispatcher struct {
	agentID  string
	registry *Registry
	keyring  *trust.Keyring
	logger   *log.Logger
	debug    bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithKeyring requires every inbound envelope to carry a signature that
// verifies against its sender's key in k. Without it signatures are ignored.
func WithKeyring(k *trust.Keyring) Option {
	return func(d *Dispatcher) { d.keyring = k }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDebug enables per-envelope debug logging.
func WithDebug(on bool) Option {
	return func(d *Dispatcher) { d.debug = on }
}

// NewDispatcher creates a Dispatcher answering as agentID.
func NewDispatcher(agentID string, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		agentID:  agentID,
		registry: registry,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AgentID returns the id used as the sender of response envelopes.
func (d *Dispatcher) AgentID() string { return d.agentID }

// Dispatch runs the protocol state machine for env. Protocol-level failures
// are reported as task.error envelopes; an error is returned only when no
// response envelope can be built.
func (d *Dispatcher) Dispatch(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	if d.debug {
		d.logger.Printf("dispatch %s id=%s from=%s", env.Type, env.ID, env.From)
	}
	if d.keyring != nil && !d.keyring.Verify(env) {
		d.logger.Printf("Rejected %s [%s]: signature from %q did not verify", env.Type, env.ID, env.From)
		return d.fail(env, protocol.ErrUnauthorized, "signature verification failed for "+env.From)
	}

	switch env.Type {
	case protocol.TypePing:
		return d.reply(env, protocol.TypePong, nil)
	case protocol.TypeTaskRequest:
		return d.handleTask(ctx, env)
	case protocol.TypeTaskAccept, protocol.TypeTaskProgress, protocol.TypeTaskResult,
		protocol.TypeTaskError, protocol.TypeTaskCancel, protocol.TypeTaskQuote,
		protocol.TypeTaskOffer, protocol.TypeTaskNegotiate, protocol.TypePong,
		protocol.TypeCapabilityQuery, protocol.TypeCapabilityResponse:
		return d.fail(env, protocol.ErrInvalidRequest, fmt.Sprintf("unsupported message type: %s", env.Type))
	default:
		return protocol.Envelope{}, fmt.Errorf("unknown message type %q", string(env.Type))
	}
}

func (d *Dispatcher) handleTask(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	capability := gjson.GetBytes(env.Payload, "capability").String()
	h, ok := d.registry.Get(capability)
	if !ok {
		return d.fail(env, protocol.ErrCapabilityNotFound, "unknown capability: "+capability)
	}

	input, err := taskInput(env.Payload)
	if err != nil {
		return d.fail(env, protocol.ErrInvalidRequest, err.Error())
	}

	result, err := d.invoke(ctx, h, capability, input, env)
	if err != nil {
		var te *protocol.TaskError
		if errors.As(err, &te) {
			return d.fail(env, te.Code, te.Message)
		}
		d.logger.Printf("Handler %q failed [%s]: %v", capability, env.ID, err)
		return d.fail(env, protocol.ErrInternal, err.Error())
	}

	resp, err := d.reply(env, protocol.TypeTaskResult, result)
	if err != nil {
		d.logger.Printf("Handler %q returned an unencodable result [%s]: %v", capability, env.ID, err)
		return d.fail(env, protocol.ErrInternal, err.Error())
	}
	return resp, nil
}

// invoke calls the handler, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, h protocol.Handler, capability string, input map[string]any, env protocol.Envelope) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Printf("PANIC in handler %q: %v", capability, rec)
			result, err = nil, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.HandleTask(ctx, capability, input, env)
}

// taskInput extracts payload.input. A missing or null input is empty.
func taskInput(payload []byte) (map[string]any, error) {
	res := gjson.GetBytes(payload, "input")
	if !res.Exists() || res.Type == gjson.Null {
		return map[string]any{}, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("input must be an object")
	}
	input := make(map[string]any)
	if err := json.Unmarshal([]byte(res.Raw), &input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return input, nil
}

func (d *Dispatcher) reply(req protocol.Envelope, t protocol.MessageType, payload any) (protocol.Envelope, error) {
	return protocol.NewEnvelope(t, d.agentID, req.From, payload,
		protocol.WithReplyTo(req.ID),
		protocol.WithCorrelationID(req.CorrelationID),
	)
}

func (d *Dispatcher) fail(req protocol.Envelope, code protocol.ErrorCode, msg string) (protocol.Envelope, error) {
	return d.reply(req, protocol.TypeTaskError, protocol.TaskErrorPayload{Code: code, Message: msg})
}
