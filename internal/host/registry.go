// Package host provides the capability handler registry and the dispatcher
// that runs the AIP request/response state machine.
package host

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

var (
	// ErrRegistrySealed is returned when registering after serving started.
	ErrRegistrySealed = errors.New("host: registry is sealed")
	// ErrDuplicateCapability is returned when a capability id is registered twice.
	ErrDuplicateCapability = errors.New("host: capability already registered")
)

// Registry maps capability ids to handlers. Registration must finish before
// the registry is sealed; after that it is read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]protocol.Handler
	sealed   bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]protocol.Handler)}
}

// Register adds a handler for a capability id.
func (r *Registry) Register(capability string, h protocol.Handler) error {
	if capability == "" {
		return fmt.Errorf("host: capability id required")
	}
	if h == nil {
		return fmt.Errorf("host: nil handler for %q", capability)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, capability)
	}
	if _, ok := r.handlers[capability]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCapability, capability)
	}
	r.handlers[capability] = h
	return nil
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(capability string, fn protocol.HandlerFunc) error {
	return r.Register(capability, fn)
}

// Seal stops further registration. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the handler for a capability id.
func (r *Registry) Get(capability string) (protocol.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[capability]
	return h, ok
}

// Capabilities returns the registered capability ids, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
