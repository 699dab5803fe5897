package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/registry"
	"github.com/spf13/cobra"
)

func newDiscoverCmd(o *options) *cobra.Command {
	var q registry.Query
	cmd := &cobra.Command{
		Use:   "discover [capability]",
		Short: "Search the registry for agents offering a capability",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.Capability = args[0]
			}
			r, err := o.requester(cmd)
			if err != nil {
				return err
			}
			results, err := r.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tNAME\tCAPABILITY\tTRUST\tPRICE\tENDPOINT")
			for _, res := range results {
				price := "-"
				if res.Pricing != nil {
					price = strings.TrimSpace(fmt.Sprintf("%s %s %s", res.Pricing.Amount, res.Pricing.Currency, res.Pricing.Model))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
					res.AgentID, res.AgentName, res.Capability, res.TrustScore, price, res.Endpoint)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&q.Tags, "tags", nil, "match any of these capability tags")
	cmd.Flags().Float64Var(&q.MaxPrice, "max-price", 0, "exclude capabilities priced above this amount")
	cmd.Flags().StringVar(&q.Operator, "operator", "", "only agents run by this operator")
	return cmd
}

func newRegisterCmd(o *options) *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish a manifest to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.needRegistry(); err != nil {
				return err
			}
			if manifestPath == "" {
				manifestPath = o.cfg.ManifestPath
			}
			m, err := config.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			ack, err := o.registryClient(cmd).Register(cmd.Context(), m)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ack.ID, ack.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file (default $AIP_MANIFEST_PATH)")
	return cmd
}

func newDeregisterCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <agent-id>",
		Short: "Remove an agent from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.needRegistry(); err != nil {
				return err
			}
			if err := o.registryClient(cmd).Deregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deregistered\n", args[0])
			return nil
		},
	}
}

func (o *options) needRegistry() error {
	if o.cfg.RegistryURL == "" {
		return fmt.Errorf("no registry configured (--registry or AIP_REGISTRY_URL)")
	}
	return nil
}
