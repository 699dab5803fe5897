// Package stdio serves AIP over standard streams: one wire-form envelope per
// input line, one response line per request.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/agent-interchange/aip-go/internal/host"
	"github.com/agent-interchange/aip-go/internal/protocol"
)

// maxLineSize bounds a single envelope line.
const maxLineSize = 1 << 20

// Adapter bridges newline-delimited envelopes to a Dispatcher.
type Adapter struct {
	dispatcher *host.Dispatcher
	reader     io.Reader
	writer     io.Writer
	logger     *log.Logger
}

// NewAdapter creates an Adapter reading from r and writing to w.
func NewAdapter(dispatcher *host.Dispatcher, r io.Reader, w io.Writer) *Adapter {
	return &Adapter{
		dispatcher: dispatcher,
		reader:     r,
		writer:     w,
		logger:     log.New(io.Discard, "", 0),
	}
}

// SetLogger replaces the default discard logger. Logs must not go to the
// output stream.
func (a *Adapter) SetLogger(l *log.Logger) { a.logger = l }

// Run processes lines until the reader is exhausted or ctx is cancelled.
// A line that is not a well-formed envelope is answered with an
// {"error": ...} object instead of an envelope.
func (a *Adapter) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(a.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !protocol.ValidateShape([]byte(line)) {
			a.writeError("invalid envelope")
			continue
		}
		env, err := protocol.Unmarshal([]byte(line))
		if err != nil {
			a.writeError("invalid envelope: " + err.Error())
			continue
		}

		resp, err := a.dispatcher.Dispatch(ctx, env)
		if err != nil {
			a.logger.Printf("Dispatch failed [%s]: %v", env.ID, err)
			a.writeError("internal error")
			continue
		}
		data, err := resp.Marshal()
		if err != nil {
			a.logger.Printf("Encode response failed [%s]: %v", env.ID, err)
			a.writeError("internal error")
			continue
		}
		fmt.Fprintf(a.writer, "%s\n", data)
	}
	return scanner.Err()
}

func (a *Adapter) writeError(msg string) {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		a.logger.Printf("marshal error line: %v", err)
		return
	}
	fmt.Fprintf(a.writer, "%s\n", data)
}
