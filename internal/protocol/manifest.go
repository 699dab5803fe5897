package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PricingModel is how a capability is billed.
type PricingModel string

const (
	PricingPerTask   PricingModel = "per-task"
	PricingPerMinute PricingModel = "per-minute"
	PricingFree      PricingModel = "free"
)

// Pricing describes the advertised cost of a capability.
type Pricing struct {
	Model    PricingModel `json:"model"`
	Amount   string       `json:"amount,omitempty"`
	Currency string       `json:"currency,omitempty"`
}

// AgentInfo identifies the agent publishing a manifest.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	Operator    string `json:"operator,omitempty"`
}

// Capability is one advertised unit of work. The schemas document the
// expected input and output; the core does not enforce them.
type Capability struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	InputSchema       map[string]any `json:"inputSchema,omitempty"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	EstimatedDuration string         `json:"estimatedDuration,omitempty"`
	Pricing           *Pricing       `json:"pricing,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
}

// Endpoints lists where the agent can be reached.
type Endpoints struct {
	AIP    string `json:"aip"`
	Health string `json:"health,omitempty"`
}

// Attestation is an opaque third-party statement about the agent.
type Attestation map[string]any

// TrustConfig carries the agent's public key and attestations.
type TrustConfig struct {
	PublicKey    string        `json:"publicKey,omitempty"`
	Attestations []Attestation `json:"attestations,omitempty"`
}

// Manifest is an agent's published identity and capability surface. Build
// one with ManifestBuilder.
type Manifest struct {
	AIP          string
	Agent        AgentInfo
	Capabilities []Capability
	Endpoints    Endpoints
	AuthSchemes  []string
	Trust        *TrustConfig
}

type authWire struct {
	Schemes []string `json:"schemes"`
}

type manifestWire struct {
	AIP          string       `json:"aip"`
	Agent        AgentInfo    `json:"agent"`
	Capabilities []Capability `json:"capabilities"`
	Endpoints    Endpoints    `json:"endpoints"`
	Auth         *authWire    `json:"auth,omitempty"`
	Trust        *TrustConfig `json:"trust,omitempty"`
}

// Capability returns the capability with the given id.
func (m Manifest) Capability(id string) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.ID == id {
			return c, true
		}
	}
	return Capability{}, false
}

// CapabilityIDs returns capability ids in declaration order.
func (m Manifest) CapabilityIDs() []string {
	ids := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		ids[i] = c.ID
	}
	return ids
}

// MarshalJSON encodes the manifest in its wire form.
func (m Manifest) MarshalJSON() ([]byte, error) {
	w := manifestWire{
		AIP:          m.AIP,
		Agent:        m.Agent,
		Capabilities: m.Capabilities,
		Endpoints:    m.Endpoints,
	}
	if w.Capabilities == nil {
		w.Capabilities = []Capability{}
	}
	if len(m.AuthSchemes) > 0 {
		w.Auth = &authWire{Schemes: m.AuthSchemes}
	}
	if m.Trust != nil && (m.Trust.PublicKey != "" || len(m.Trust.Attestations) > 0) {
		w.Trust = m.Trust
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. Absent optional fields are empty and a
// missing version defaults to Version.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var w manifestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Manifest{
		AIP:          w.AIP,
		Agent:        w.Agent,
		Capabilities: w.Capabilities,
		Endpoints:    w.Endpoints,
		Trust:        w.Trust,
	}
	if m.AIP == "" {
		m.AIP = Version
	}
	if w.Auth != nil {
		m.AuthSchemes = w.Auth.Schemes
	}
	return nil
}

// ParseManifest decodes a wire-form manifest. It does not enforce manifest
// invariants; pass the result through BuilderFrom(...).Build() for that.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// ValidationError lists every problem found while building a manifest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

// ManifestBuilder accumulates manifest fields. Build validates them.
type ManifestBuilder struct {
	agent        AgentInfo
	capabilities []Capability
	endpoints    Endpoints
	authSchemes  []string
	trust        *TrustConfig
}

// NewManifestBuilder returns a builder whose agent id is a fresh UUID.
func NewManifestBuilder() *ManifestBuilder {
	return &ManifestBuilder{agent: AgentInfo{ID: uuid.NewString()}}
}

// BuilderFrom seeds a builder with an existing manifest, typically one
// decoded with ParseManifest.
func BuilderFrom(m Manifest) *ManifestBuilder {
	b := NewManifestBuilder()
	if m.Agent.ID == "" {
		m.Agent.ID = b.agent.ID
	}
	b.agent = m.Agent
	b.capabilities = append(b.capabilities, m.Capabilities...)
	b.endpoints = m.Endpoints
	b.authSchemes = append(b.authSchemes, m.AuthSchemes...)
	b.trust = m.Trust
	return b
}

// Agent sets the agent identity. An empty info.ID keeps the current id.
func (b *ManifestBuilder) Agent(info AgentInfo) *ManifestBuilder {
	if info.ID == "" {
		info.ID = b.agent.ID
	}
	b.agent = info
	return b
}

// AgentID overrides the agent id.
func (b *ManifestBuilder) AgentID(id string) *ManifestBuilder {
	b.agent.ID = id
	return b
}

// Capability appends a capability. Order is preserved.
func (b *ManifestBuilder) Capability(c Capability) *ManifestBuilder {
	b.capabilities = append(b.capabilities, c)
	return b
}

// Endpoints sets the AIP message endpoint and optional health endpoint.
func (b *ManifestBuilder) Endpoints(aip, health string) *ManifestBuilder {
	b.endpoints = Endpoints{AIP: aip, Health: health}
	return b
}

// AuthSchemes sets the supported auth scheme names.
func (b *ManifestBuilder) AuthSchemes(schemes ...string) *ManifestBuilder {
	b.authSchemes = append([]string(nil), schemes...)
	return b
}

// Trust sets the trust configuration.
func (b *ManifestBuilder) Trust(t TrustConfig) *ManifestBuilder {
	b.trust = &t
	return b
}

// Build validates the accumulated fields and returns the manifest. It fails
// with a *ValidationError naming every missing or conflicting field.
func (b *ManifestBuilder) Build() (Manifest, error) {
	var problems []string
	if strings.TrimSpace(b.agent.Name) == "" {
		problems = append(problems, "agent name required")
	}
	if b.agent.ID == "" {
		problems = append(problems, "agent id required")
	}
	if b.endpoints.AIP == "" {
		problems = append(problems, "AIP endpoint required")
	}
	if len(b.capabilities) == 0 {
		problems = append(problems, "at least one capability required")
	}
	seen := make(map[string]bool, len(b.capabilities))
	for i, c := range b.capabilities {
		switch {
		case c.ID == "":
			problems = append(problems, fmt.Sprintf("capability %d: id required", i))
		case seen[c.ID]:
			problems = append(problems, fmt.Sprintf("capability %q: duplicate id", c.ID))
		}
		seen[c.ID] = true
	}
	if len(problems) > 0 {
		return Manifest{}, &ValidationError{Problems: problems}
	}

	m := Manifest{
		AIP:          Version,
		Agent:        b.agent,
		Capabilities: append([]Capability(nil), b.capabilities...),
		Endpoints:    b.endpoints,
		AuthSchemes:  append([]string(nil), b.authSchemes...),
	}
	if b.trust != nil {
		t := *b.trust
		t.Attestations = append([]Attestation(nil), t.Attestations...)
		m.Trust = &t
	}
	return m, nil
}
