package cli

import (
	"fmt"

	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/trust"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 signing key pair",
		Long: "Keygen prints a new public key for the manifest trust section and the matching " +
			"private key seed for AIP_PRIVATE_KEY.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := trust.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public:  %s\nprivate: %s\n", trust.ExportPublicKey(pub), trust.ExportPrivateKey(priv))
			return nil
		},
	}
}

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with agent manifest files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Check that a manifest file builds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Load().ManifestPath
			if len(args) == 1 {
				path = args[0]
			}
			m, err := config.LoadManifest(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (agent %s, %d capabilities: %v)\n",
				path, m.Agent.ID, len(m.Capabilities), m.CapabilityIDs())
			return nil
		},
	})
	return cmd
}
