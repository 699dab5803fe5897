// Package testkit provides shared helpers for end-to-end tests: in-process
// agents served over real HTTP and a fake registry.
package testkit

import (
	"io"
	"log"
	"net/http/httptest"
	"testing"

	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/host"
	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/server"
)

// Agent is an in-process AIP agent listening on a loopback port.
type Agent struct {
	*httptest.Server
	Manifest protocol.Manifest
}

// Endpoint returns the agent's AIP message endpoint.
func (a *Agent) Endpoint() string { return a.Manifest.Endpoints.AIP }

// ID returns the agent id from its manifest.
func (a *Agent) ID() string { return a.Manifest.Agent.ID }

// Config returns a configuration suitable for in-process test servers.
func Config() *config.Config {
	return &config.Config{
		Port:        "0",
		Environment: config.EnvTest,
		LogLevel:    "info",
		MaxBodySize: 1 << 20,
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// StartAgent serves handlers under agentID. Each handler key becomes a
// capability of the manifest; endpoints point at the test server. The server
// is closed when the test ends.
func StartAgent(t *testing.T, agentID string, handlers map[string]protocol.Handler, opts ...server.Option) *Agent {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	base := "http://" + ts.Listener.Addr().String()

	b := protocol.NewManifestBuilder().
		AgentID(agentID).
		Agent(protocol.AgentInfo{Name: agentID}).
		Endpoints(base+"/aip", base+"/health")
	reg := host.NewRegistry()
	for id, h := range handlers {
		b.Capability(protocol.Capability{ID: id, Name: id})
		if err := reg.Register(id, h); err != nil {
			t.Fatalf("testkit: register %s: %v", id, err)
		}
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("testkit: build manifest: %v", err)
	}

	opts = append([]server.Option{server.WithLogger(DiscardLogger())}, opts...)
	srv := server.New(Config(), m, reg, opts...)
	ts.Config.Handler = srv.Handler()
	ts.Start()
	t.Cleanup(ts.Close)

	return &Agent{Server: ts, Manifest: m}
}
