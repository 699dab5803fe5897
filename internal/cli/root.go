// Package cli implements the aip command line.
package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/agent-interchange/aip-go/internal/client"
	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/registry"
	"github.com/agent-interchange/aip-go/internal/trust"
	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version and commit for display.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// options holds the persistent flags shared by every command.
type options struct {
	cfg         *config.Config
	agentID     string
	registryURL string
	timeout     time.Duration
	verbose     bool
}

// NewRootCmd builds the aip command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "aip",
		Short:         "aip - serve and talk to Agent Interchange Protocol agents",
		Long:          "aip runs an AIP agent host and sends envelopes to other agents, discovered through a registry or addressed directly.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			o.load()
			return nil
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("aip %s (commit: %s)\n", appVersion, appCommit))

	root.PersistentFlags().StringVar(&o.agentID, "agent-id", "", "sender agent id (default $AIP_AGENT_ID or aip-cli)")
	root.PersistentFlags().StringVar(&o.registryURL, "registry", "", "registry base URL (default $AIP_REGISTRY_URL)")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 0, "request timeout (default $CLIENT_TIMEOUT)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		newServeCmd(o),
		newPingCmd(o),
		newSendCmd(o),
		newDiscoverCmd(o),
		newRegisterCmd(o),
		newDeregisterCmd(o),
		newKeygenCmd(),
		newManifestCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

// load reads the environment configuration and applies flag overrides.
func (o *options) load() {
	o.cfg = config.Load()
	if o.agentID != "" {
		o.cfg.AgentID = o.agentID
	}
	if o.registryURL != "" {
		o.cfg.RegistryURL = o.registryURL
	}
	if o.timeout > 0 {
		o.cfg.ClientTimeout = o.timeout
	}
}

func (o *options) logger(cmd *cobra.Command, prefix string) *log.Logger {
	if !o.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "["+prefix+"] ", log.LstdFlags|log.Lmsgprefix)
}

func (o *options) registryClient(cmd *cobra.Command) *registry.Client {
	return registry.NewClient(o.cfg.RegistryURL,
		registry.WithTimeout(o.cfg.ClientTimeout),
		registry.WithLogger(o.logger(cmd, "registry")),
	)
}

// requester builds a client from the loaded configuration.
func (o *options) requester(cmd *cobra.Command) (*client.Requester, error) {
	opts := []client.Option{
		client.WithTimeout(o.cfg.ClientTimeout),
		client.WithLogger(o.logger(cmd, "client")),
	}
	if o.cfg.RegistryURL != "" {
		opts = append(opts, client.WithRegistryClient(o.registryClient(cmd)))
	}
	if o.cfg.PrivateKey != "" {
		key, err := trust.ParsePrivateKey(o.cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("AIP_PRIVATE_KEY: %w", err)
		}
		opts = append(opts, client.WithSigner(key))
	}
	return client.New(o.cfg.AgentID, opts...), nil
}
