// Package registry provides a client for the AIP registry service, which
// stores agent manifests and answers capability searches.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

// StatusError is returned when the registry answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: API error %d: %s", e.StatusCode, e.Body)
}

// Registration is the acknowledgment returned by Register.
type Registration struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Query filters a search. Zero values are not sent.
type Query struct {
	Capability string
	Tags       []string
	MaxPrice   float64
	Operator   string
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Capability != "" {
		v.Set("capability", q.Capability)
	}
	if len(q.Tags) > 0 {
		v.Set("tags", strings.Join(q.Tags, ","))
	}
	if q.MaxPrice > 0 {
		v.Set("maxPrice", strconv.FormatFloat(q.MaxPrice, 'f', -1, 64))
	}
	if q.Operator != "" {
		v.Set("operator", q.Operator)
	}
	return v
}

// searchResult is the wire form of one search hit.
type searchResult struct {
	Agent struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
	Capability string            `json:"capability"`
	Endpoint   string            `json:"endpoint"`
	TrustScore float64           `json:"trustScore"`
	Pricing    *protocol.Pricing `json:"pricing"`
	LastSeen   string            `json:"lastSeen"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Client talks to one registry.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client = &http.Client{Timeout: d} }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a registry client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.New(io.Discard, "[registry] ", log.LstdFlags|log.Lmsgprefix),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the registry root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Register publishes a manifest.
func (c *Client) Register(ctx context.Context, m protocol.Manifest) (Registration, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Registration{}, fmt.Errorf("marshal manifest: %w", err)
	}
	var reg Registration
	if err := c.do(ctx, http.MethodPost, "/v1/agents", body, &reg); err != nil {
		return Registration{}, err
	}
	c.logger.Printf("Registered %s (%s)", m.Agent.ID, reg.Status)
	return reg, nil
}

// Search returns the capabilities matching q.
func (c *Client) Search(ctx context.Context, q Query) ([]protocol.SearchResult, error) {
	path := "/v1/agents/search"
	if qs := q.values().Encode(); qs != "" {
		path += "?" + qs
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	results := make([]protocol.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, protocol.SearchResult{
			AgentID:    r.Agent.ID,
			AgentName:  r.Agent.Name,
			Capability: r.Capability,
			Endpoint:   r.Endpoint,
			TrustScore: r.TrustScore,
			Pricing:    r.Pricing,
			LastSeen:   r.LastSeen,
		})
	}
	return results, nil
}

// Get fetches the manifest registered under id.
func (c *Client) Get(ctx context.Context, id string) (protocol.Manifest, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &raw); err != nil {
		return protocol.Manifest{}, err
	}
	return protocol.ParseManifest(raw)
}

// Deregister removes the agent registered under id.
func (c *Client) Deregister(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/agents/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	c.logger.Printf("Deregistered %s", id)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
