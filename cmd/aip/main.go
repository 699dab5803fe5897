// Command aip serves AIP agents and sends them tasks.
package main

import (
	"github.com/agent-interchange/aip-go/internal/cli"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersionInfo(version, commit)
	cli.Execute()
}
