package trust

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"sort"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Keyring maps agent ids to their trusted public keys. It is filled at
// configuration time and only read afterwards.
type Keyring struct {
	keys map[string]ed25519.PublicKey
}

// NewKeyring creates an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// Add trusts key (in "ed25519:<base64>" form) for agentID.
func (k *Keyring) Add(agentID, key string) error {
	if agentID == "" {
		return fmt.Errorf("keyring: agent id required")
	}
	pub, err := ParsePublicKey(key)
	if err != nil {
		return fmt.Errorf("keyring: agent %q: %w", agentID, err)
	}
	k.keys[agentID] = pub
	return nil
}

// Lookup returns the key trusted for agentID.
func (k *Keyring) Lookup(agentID string) (ed25519.PublicKey, bool) {
	pub, ok := k.keys[agentID]
	return pub, ok
}

// Agents returns the ids with a trusted key, sorted.
func (k *Keyring) Agents() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Verify checks env's signature against the key trusted for its sender.
// Unknown senders fail.
func (k *Keyring) Verify(env protocol.Envelope) bool {
	pub, ok := k.Lookup(env.From)
	if !ok {
		return false
	}
	return Verify(env, pub)
}

// LoadKeyring reads a YAML mapping of agent id to public key, e.g.
//
//	agent-a: "ed25519:MCowBQYDK2VwAyEA..."
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse keyring %s: %w", path, err)
	}
	k := NewKeyring()
	for id, key := range entries {
		if err := k.Add(id, key); err != nil {
			return nil, err
		}
	}
	return k, nil
}
