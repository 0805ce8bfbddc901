package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewContextCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect the configured contexts",
		Long: `A context groups key stores and hosts. The active context is used
unless --context names another one.`,
	}
	cmd.AddCommand(newContextListCommand(g))
	return cmd
}

type contextEntry struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func newContextListCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			def := env.Config().Definition

			active := def.ActiveContext
			if g.Context != "" {
				active = g.Context
			}
			entries := make([]contextEntry, 0, len(def.Contexts))
			for _, record := range def.Contexts {
				entries = append(entries, contextEntry{Name: record.Name, Type: record.Type, Active: record.Name == active})
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, entries)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tTYPE\t\n")
			for _, entry := range entries {
				marker := ""
				if entry.Active {
					marker = g.paint(colorGreen, "(active)")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Name, entry.Type, marker)
			}
			return w.Flush()
		},
	}
}
