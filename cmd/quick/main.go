package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/quickmanage/cmd/quick/commands"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", qerrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	g := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "quick",
		Short: "Quick Manage - secrets, hosts and certificates from one place",
		Long: `quick keeps secrets in pluggable key stores, grouped into contexts, and
deploys stored certificates to hosts through local, SSH or Kubernetes clients.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.Logger = logging.New(g.Debug, g.NoColor)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "Config file path (default $QUICK_CONFIG or the user config dir)")
	flags.StringVar(&g.Context, "context", "", "Context to use instead of the active one")
	flags.BoolVar(&g.NoColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&g.Debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&g.JSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		commands.NewContextCommand(g),
		commands.NewKeyCommand(g),
		commands.NewHostCommand(g),
		commands.NewCertCommand(g),
	)

	return rootCmd.Execute()
}
