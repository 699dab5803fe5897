package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-interchange/aip-go/agents/echo"
	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/host"
	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/server"
	"github.com/agent-interchange/aip-go/internal/transport/stdio"
	"github.com/agent-interchange/aip-go/internal/trust"
	"github.com/spf13/cobra"
)

// builtins are the handlers aip serve can attach to manifest capabilities.
var builtins = map[string]func() protocol.Handler{
	echo.CapabilityID: func() protocol.Handler { return echo.New() },
}

type serveFlags struct {
	manifestPath string
	port         string
	transport    string
	register     bool
}

func newServeCmd(o *options) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent described by a manifest file",
		Long: "Serve loads a YAML or JSON manifest and answers AIP envelopes for every declared " +
			"capability that has a built-in handler. The echo capability is always served.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, o, f)
		},
	}
	cmd.Flags().StringVarP(&f.manifestPath, "manifest", "m", "", "manifest file (default $AIP_MANIFEST_PATH)")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "listen port (default $PORT)")
	cmd.Flags().StringVar(&f.transport, "transport", "http", "transport: http or stdio")
	cmd.Flags().BoolVar(&f.register, "register", false, "publish the manifest to the registry before serving")
	return cmd
}

func runServe(cmd *cobra.Command, o *options, f *serveFlags) error {
	cfg := o.cfg
	if f.manifestPath != "" {
		cfg.ManifestPath = f.manifestPath
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.New(cmd.ErrOrStderr(), "[aip] ", log.LstdFlags|log.Lmsgprefix)
	agent, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}
	logger.Printf("Agent %s (%s) version=%s env=%s capabilities=%v",
		agent.manifest.Agent.ID, agent.manifest.Agent.Name, appVersion, cfg.Environment, agent.registry.Capabilities())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.register {
		if cfg.RegistryURL == "" {
			return fmt.Errorf("--register needs a registry (--registry or AIP_REGISTRY_URL)")
		}
		ack, err := o.registryClient(cmd).Register(ctx, agent.manifest)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		logger.Printf("Registered with %s: %s", cfg.RegistryURL, ack.Status)
	}

	switch f.transport {
	case "http":
		opts := []server.Option{server.WithLogger(log.New(cmd.ErrOrStderr(), "[server] ", log.LstdFlags|log.Lmsgprefix))}
		if agent.keyring != nil {
			opts = append(opts, server.WithKeyring(agent.keyring))
		}
		return server.New(cfg, agent.manifest, agent.registry, opts...).ListenAndServe(ctx)
	case "stdio":
		return serveStdio(ctx, cmd, cfg, agent)
	default:
		return fmt.Errorf("unknown transport %q (want http or stdio)", f.transport)
	}
}

func serveStdio(ctx context.Context, cmd *cobra.Command, cfg *config.Config, agent *agentHost) error {
	agent.registry.Seal()
	opts := []host.Option{
		host.WithLogger(log.New(cmd.ErrOrStderr(), "[host] ", log.LstdFlags|log.Lmsgprefix)),
		host.WithDebug(cfg.Debug()),
	}
	if agent.keyring != nil {
		opts = append(opts, host.WithKeyring(agent.keyring))
	}
	d := host.NewDispatcher(agent.manifest.Agent.ID, agent.registry, opts...)
	adapter := stdio.NewAdapter(d, cmd.InOrStdin(), cmd.OutOrStdout())
	adapter.SetLogger(log.New(cmd.ErrOrStderr(), "[stdio] ", log.LstdFlags|log.Lmsgprefix))
	return adapter.Run(ctx)
}

// agentHost is everything needed to serve one agent.
type agentHost struct {
	manifest protocol.Manifest
	registry *host.Registry
	keyring  *trust.Keyring
}

// buildAgent loads the manifest, attaches built-in handlers, and loads the
// trusted keys when signatures are required.
func buildAgent(cfg *config.Config, logger *log.Logger) (*agentHost, error) {
	m, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}

	b := protocol.BuilderFrom(m)
	if _, ok := m.Capability(echo.CapabilityID); !ok {
		b.Capability(echo.Capability())
	}
	if cfg.PrivateKey != "" && (m.Trust == nil || m.Trust.PublicKey == "") {
		key, err := trust.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("AIP_PRIVATE_KEY: %w", err)
		}
		t := protocol.TrustConfig{PublicKey: trust.ExportPublicKey(key.Public().(ed25519.PublicKey))}
		if m.Trust != nil {
			t.Attestations = m.Trust.Attestations
		}
		b.Trust(t)
	}
	if m, err = b.Build(); err != nil {
		return nil, err
	}

	reg := host.NewRegistry()
	for _, c := range m.Capabilities {
		newHandler, ok := builtins[c.ID]
		if !ok {
			logger.Printf("No built-in handler for capability %q; requests will fail with %s", c.ID, protocol.ErrCapabilityNotFound)
			continue
		}
		if err := reg.RegisterCapability(c, newHandler()); err != nil {
			return nil, fmt.Errorf("register %q: %w", c.ID, err)
		}
	}

	a := &agentHost{manifest: m, registry: reg}
	if cfg.RequireSignatures {
		if a.keyring, err = trust.LoadKeyring(cfg.TrustedKeysPath); err != nil {
			return nil, err
		}
		logger.Printf("Signature enforcement on: %d trusted agent(s)", len(a.keyring.Agents()))
	}
	return a, nil
}
