package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateInput wraps next so that task input is checked against the
// capability's input schema before next runs. Invalid input is answered with
// INPUT_VALIDATION_FAILED. A capability without a schema returns next as is.
func ValidateInput(c protocol.Capability, next protocol.Handler) (protocol.Handler, error) {
	if len(c.InputSchema) == 0 {
		return next, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile input schema for %q: %w", c.ID, err)
	}
	return protocol.HandlerFunc(func(ctx context.Context, capability string, input map[string]any, env protocol.Envelope) (map[string]any, error) {
		result, err := schema.Validate(gojsonschema.NewGoLoader(input))
		if err != nil {
			return nil, &protocol.TaskError{Code: protocol.ErrInputValidationFailed, Message: err.Error()}
		}
		if !result.Valid() {
			errs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				errs = append(errs, e.String())
			}
			return nil, &protocol.TaskError{Code: protocol.ErrInputValidationFailed, Message: strings.Join(errs, "; ")}
		}
		return next.HandleTask(ctx, capability, input, env)
	}), nil
}

// RegisterCapability registers h for c, validating input against
// c.InputSchema when one is declared.
func (r *Registry) RegisterCapability(c protocol.Capability, h protocol.Handler) error {
	wrapped, err := ValidateInput(c, h)
	if err != nil {
		return err
	}
	return r.Register(c.ID, wrapped)
}
