package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/spf13/cobra"
)

func newPingCmd(o *options) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "ping <endpoint>",
		Short: "Check that an agent is alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := o.requester(cmd)
			if err != nil {
				return err
			}
			resp, err := r.Ping(cmd.Context(), to, args[0])
			if err != nil {
				return err
			}
			if err := printEnvelope(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.Type != protocol.TypePong {
				return fmt.Errorf("expected pong, got %s", resp.Type)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient agent id")
	return cmd
}

type sendFlags struct {
	to            string
	input         string
	constraints   string
	correlationID string
}

func newSendCmd(o *options) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send <endpoint> <capability>",
		Short: "Send a task request and print the response envelope",
		Long: "Send builds a task.request for the capability, posts it to the endpoint and prints the " +
			"response. A task.error response is printed and reported as a failure.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseObject("--input", f.input)
			if err != nil {
				return err
			}
			constraints, err := parseObject("--constraints", f.constraints)
			if err != nil {
				return err
			}
			r, err := o.requester(cmd)
			if err != nil {
				return err
			}

			var opts []protocol.EnvelopeOption
			if f.correlationID != "" {
				opts = append(opts, protocol.WithCorrelationID(f.correlationID))
			}
			resp, err := r.SendTask(cmd.Context(), f.to, args[0], args[1], input, constraints, opts...)
			if err != nil {
				return err
			}
			if err := printEnvelope(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.Type == protocol.TypeTaskError {
				var p protocol.TaskErrorPayload
				if err := resp.DecodePayload(&p); err != nil {
					return err
				}
				return &protocol.TaskError{Code: p.Code, Message: p.Message}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.to, "to", "", "recipient agent id")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "task input as a JSON object")
	cmd.Flags().StringVar(&f.constraints, "constraints", "", "task constraints as a JSON object")
	cmd.Flags().StringVar(&f.correlationID, "correlation-id", "", "correlation id for a multi-message exchange")
	return cmd
}

// parseObject decodes a JSON object flag value. Empty means absent.
func parseObject(flag, s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", flag, err)
	}
	return v, nil
}

func printEnvelope(w io.Writer, env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}
