package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/systmms/quickmanage/internal/environment"
	"github.com/systmms/quickmanage/internal/hosts"
)

func NewHostCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Deploy certificates to hosts and run commands on them",
	}
	cmd.AddCommand(
		newHostListCommand(g),
		newHostDeployCommand(g),
		newHostRunCommand(g),
	)
	return cmd
}

type hostEntry struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Description string   `json:"description,omitempty"`
	Clients     []string `json:"clients"`
	Certs       []string `json:"certs"`
}

func newHostListCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the hosts of the context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			declared, err := env.Hosts(cmd.Context())
			if err != nil {
				return err
			}

			entries := make([]hostEntry, 0, len(declared))
			for _, name := range sortedKeys(declared) {
				cfg := declared[name]
				entry := hostEntry{Name: name, Address: cfg.Host, Description: cfg.Description}
				for _, client := range cfg.Clients {
					entry.Clients = append(entry.Clients, client.Name+":"+client.Type)
				}
				for _, cert := range cfg.Certs {
					entry.Certs = append(entry.Certs, cert.Name)
				}
				entries = append(entries, entry)
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, entries)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tADDRESS\tCLIENTS\tCERTS\n")
			for _, entry := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.Name, entry.Address,
					strings.Join(entry.Clients, ", "), strings.Join(entry.Certs, ", "))
			}
			return w.Flush()
		},
	}
}

type stepOutput struct {
	Step     string `json:"step"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

func newHostDeployCommand(g *Globals) *cobra.Command {
	var textfile string

	cmd := &cobra.Command{
		Use:   "deploy <host> <cert>",
		Short: "Push a certificate to a host and run its post-deployment actions",
		Long: `Transfers the configured certificate components in the order fullchain,
private, chain, cert, then runs the post-deployment actions.

Deployment stops at the first failure. Steps that already completed are
not undone; fix the problem and deploy again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			env, err := g.Environment(cmd.Context(), environment.WithMetrics(hosts.NewMetrics(registry)))
			if err != nil {
				return err
			}
			host, err := env.Host(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cert, err := host.Cert(args[1])
			if err != nil {
				return err
			}

			logger := g.log()
			report, deployErr := host.DeployCert(cmd.Context(), cert, func(step hosts.Step) {
				logger.Info("%s", step)
			})

			if textfile != "" {
				if err := prometheus.WriteToTextfile(textfile, registry); err != nil {
					logger.Warn("Could not write metrics to %s: %v", textfile, err)
				}
			}

			if g.JSON {
				steps := make([]stepOutput, 0, len(report.Results))
				for _, result := range report.Results {
					step := stepOutput{Step: result.Step.String(), Outcome: string(result.Outcome), Duration: result.Duration.String()}
					if result.Err != nil {
						step.Error = result.Err.Error()
					}
					steps = append(steps, step)
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"host":      report.Host,
					"cert":      report.Cert,
					"completed": report.Completed(),
					"planned":   len(hosts.Plan(cert)),
					"steps":     steps,
				}); err != nil {
					return err
				}
			}

			if deployErr != nil {
				if failed, ok := report.Failed(); ok {
					logger.Error("%s", failed.Step)
				}
				return deployErr
			}
			logger.Info("Deployed %s to %s (%d steps)", cert.Name, host.Name(), report.Completed())
			return nil
		},
	}
	cmd.Flags().StringVar(&textfile, "metrics-textfile", "", "Write deployment metrics in Prometheus text format to this file")
	return cmd
}

func newHostRunCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run <host> <client> <command...>",
		Short: "Run a command through one of the host's clients",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			host, err := env.Host(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			command := strings.Join(args[2:], " ")
			if err := host.Run(cmd.Context(), args[1], command); err != nil {
				return err
			}
			g.log().Info("Ran '%s' on %s via %s", command, host.Name(), args[1])
			return nil
		},
	}
}

