// Package client implements the requester side of AIP: discovering agents
// through a registry and sending them envelopes over HTTP.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/registry"
	"github.com/agent-interchange/aip-go/internal/server"
	"github.com/agent-interchange/aip-go/internal/trust"
)

var (
	// ErrNoRegistry is returned by Discover when no registry was configured.
	ErrNoRegistry = errors.New("client: no registry configured")
	// ErrInvalidResponse is returned when a response body is not a
	// well-formed envelope.
	ErrInvalidResponse = errors.New("client: invalid response envelope")
)

// StatusError is returned when an agent answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: agent returned %d: %s", e.StatusCode, e.Body)
}

// Requester sends envelopes on behalf of one agent identity.
type Requester struct {
	agentID  string
	registry *registry.Client
	client   *http.Client
	signer   ed25519.PrivateKey
	logger   *log.Logger
}

// Option configures a Requester.
type Option func(*Requester)

// WithRegistry enables discovery against the registry at baseURL.
func WithRegistry(baseURL string) Option {
	return func(r *Requester) {
		if baseURL != "" {
			r.registry = registry.NewClient(baseURL)
		}
	}
}

// WithRegistryClient enables discovery through an existing registry client.
func WithRegistryClient(c *registry.Client) Option {
	return func(r *Requester) { r.registry = c }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Requester) { r.client = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(r *Requester) { r.client.Timeout = d }
}

// WithSigner signs every outbound envelope with key.
func WithSigner(key ed25519.PrivateKey) Option {
	return func(r *Requester) { r.signer = key }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Requester) { r.logger = l }
}

// New creates a requester identified as agentID.
func New(agentID string, opts ...Option) *Requester {
	r := &Requester{
		agentID: agentID,
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		logger: log.New(io.Discard, "[client] ", log.LstdFlags|log.Lmsgprefix),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AgentID returns the sender id placed on outbound envelopes.
func (r *Requester) AgentID() string { return r.agentID }

// Discover searches the registry for agents offering capability, optionally
// restricted to tags.
func (r *Requester) Discover(ctx context.Context, capability string, tags ...string) ([]protocol.SearchResult, error) {
	return r.Search(ctx, registry.Query{Capability: capability, Tags: tags})
}

// Search runs a registry query with every supported filter.
func (r *Requester) Search(ctx context.Context, q registry.Query) ([]protocol.SearchResult, error) {
	if r.registry == nil {
		return nil, ErrNoRegistry
	}
	return r.registry.Search(ctx, q)
}

// FetchManifest retrieves the manifest an agent publishes at its base URL.
func (r *Requester) FetchManifest(ctx context.Context, baseURL string) (protocol.Manifest, error) {
	url := strings.TrimRight(baseURL, "/") + server.ManifestPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return protocol.Manifest{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return protocol.ParseManifest(body)
}

// SendTask asks the agent at endpoint to run capability on input. A task.error
// answer is returned as a normal envelope; only transport failures and
// malformed responses are errors.
func (r *Requester) SendTask(ctx context.Context, to, endpoint, capability string, input, constraints map[string]any, opts ...protocol.EnvelopeOption) (protocol.Envelope, error) {
	if input == nil {
		input = map[string]any{}
	}
	env, err := protocol.NewEnvelope(protocol.TypeTaskRequest, r.agentID, to, protocol.TaskRequestPayload{
		Capability:  capability,
		Input:       input,
		Constraints: constraints,
	}, opts...)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return r.Send(ctx, endpoint, env)
}

// Ping checks that the agent at endpoint is alive. The response is expected
// to be a pong.
func (r *Requester) Ping(ctx context.Context, to, endpoint string) (protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(protocol.TypePing, r.agentID, to, nil)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return r.Send(ctx, endpoint, env)
}

// Send transmits env to endpoint, signing it first when a signer is set, and
// returns the validated response envelope.
func (r *Requester) Send(ctx context.Context, endpoint string, env protocol.Envelope) (protocol.Envelope, error) {
	if r.signer != nil {
		signed, err := trust.SignEnvelope(env, r.signer)
		if err != nil {
			return protocol.Envelope{}, err
		}
		env = signed
	}
	body, err := env.Marshal()
	if err != nil {
		return protocol.Envelope{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s to %s: %w", env.Type, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return protocol.Envelope{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if !protocol.ValidateShape(respBody) {
		return protocol.Envelope{}, ErrInvalidResponse
	}
	out, err := protocol.Unmarshal(respBody)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	r.logger.Printf("%s %s -> %s (%v)", env.Type, env.ID, out.Type, time.Since(start))
	return out, nil
}
