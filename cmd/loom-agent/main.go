// Command loom-agent runs the conversational Kubernetes operations
// server. Grounded on the teacher's cmd/server/main.go lifecycle
// (load config, build server, start, wait for SIGINT/SIGTERM, stop),
// generalized into a cobra command tree per the sibling kcli tool's
// cmd/kcli/main.go convention.
package main

import (
	"fmt"
	"os"

	"github.com/loomctl/loom-agent/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loom-agent:", err)
		os.Exit(1)
	}
}
