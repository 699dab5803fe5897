package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

type registryEntry struct {
	manifest protocol.Manifest
	raw      json.RawMessage
	lastSeen string
}

// Registry is an in-memory registry service speaking the registry HTTP
// contract. Searches return one result per matching capability with a fixed
// trust score of 0.5.
type Registry struct {
	*httptest.Server

	mu     sync.Mutex
	agents map[string]registryEntry
}

// StartRegistry starts a fake registry that is closed when the test ends.
func StartRegistry(t *testing.T) *Registry {
	t.Helper()
	r := &Registry{agents: make(map[string]registryEntry)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("POST /v1/agents", r.handleRegister)
	mux.HandleFunc("GET /v1/agents/search", r.handleSearch)
	mux.HandleFunc("GET /v1/agents/{id}", r.handleGet)
	mux.HandleFunc("DELETE /v1/agents/{id}", r.handleDelete)

	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Close)
	return r
}

// Agents returns the registered agent ids, sorted.
func (r *Registry) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Add registers m directly, bypassing HTTP.
func (r *Registry) Add(m protocol.Manifest) {
	raw, _ := json.Marshal(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[m.Agent.ID] = registryEntry{manifest: m, raw: raw, lastSeen: now()}
}

func (r *Registry) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	n := len(r.agents)
	r.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": n})
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	m, err := protocol.ParseManifest(raw)
	if err != nil || m.Agent.ID == "" || m.Agent.Name == "" || len(m.Capabilities) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid manifest: need agent.id, agent.name, and capabilities"})
		return
	}
	r.mu.Lock()
	r.agents[m.Agent.ID] = registryEntry{manifest: m, raw: raw, lastSeen: now()}
	r.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"id": m.Agent.ID, "status": "registered"})
}

func (r *Registry) handleSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	capability := q.Get("capability")
	operator := q.Get("operator")
	var tags []string
	for _, tag := range strings.Split(q.Get("tags"), ",") {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			tags = append(tags, tag)
		}
	}
	maxPrice, hasMax := 0.0, false
	if v := q.Get("maxPrice"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			maxPrice, hasMax = f, true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	results := []map[string]any{}
	for _, id := range sortedKeys(r.agents) {
		e := r.agents[id]
		for _, c := range e.manifest.Capabilities {
			if capability != "" && !strings.Contains(c.ID, capability) &&
				!strings.Contains(strings.ToLower(c.Name), strings.ToLower(capability)) {
				continue
			}
			if len(tags) > 0 && !anyTag(c.Tags, tags) {
				continue
			}
			if hasMax && c.Pricing != nil && c.Pricing.Amount != "" {
				if amount, err := strconv.ParseFloat(c.Pricing.Amount, 64); err == nil && amount > maxPrice {
					continue
				}
			}
			if operator != "" && e.manifest.Agent.Operator != operator {
				continue
			}
			results = append(results, map[string]any{
				"agent":      map[string]string{"id": e.manifest.Agent.ID, "name": e.manifest.Agent.Name},
				"capability": c.ID,
				"trustScore": 0.5,
				"pricing":    c.Pricing,
				"endpoint":   e.manifest.Endpoints.AIP,
				"lastSeen":   e.lastSeen,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "total": len(results), "page": 1})
}

func (r *Registry) handleGet(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	e, ok := r.agents[req.PathValue("id")]
	r.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Agent not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(e.raw) //nolint:errcheck
}

func (r *Registry) handleDelete(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	r.mu.Lock()
	_, ok := r.agents[id]
	delete(r.agents, id)
	r.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

func anyTag(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.ToLower(h) == w {
				return true
			}
		}
	}
	return false
}

func sortedKeys(m map[string]registryEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func now() string {
	return time.Now().UTC().Format(protocol.TimestampLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
