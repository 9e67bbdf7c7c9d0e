// Package cli wires the cobra command tree, grounded on the sibling
// kcli tool's internal/cli/root.go (PersistentFlags for global
// deployment knobs, SilenceUsage/SilenceErrors, a Version field fed by
// internal/version). Where kcli fans out into many kubectl-verb
// subcommands, this tree carries exactly the two a long-running server
// needs: serve and version.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom-agent/internal/version"
)

type rootFlags struct {
	configPath string
}

// NewRootCommand builds the loom-agent command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "loom-agent",
		Short:         "Conversational Kubernetes operations agent",
		Long:          "loom-agent drives an LLM-backed conversation loop over a Kubernetes tool catalog, gating dangerous operations behind human approval.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a loom-agent.yaml config file (default: ./loom-agent.yaml or /etc/loom-agent/loom-agent.yaml)")

	cmd.AddCommand(
		newServeCmd(flags),
		newVersionCmd(),
	)
	cmd.SetVersionTemplate(fmt.Sprintf("loom-agent {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "loom-agent %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}
