package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/quickmanage/internal/certs"
	qerrors "github.com/systmms/quickmanage/internal/errors"
)

func NewCertCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect TLS certificates",
	}
	cmd.AddCommand(newCertCheckCommand(g))
	return cmd
}

type certOutput struct {
	Source string `json:"source"`
	certs.Info
	DaysRemaining int          `json:"days_remaining"`
	Status        certs.Status `json:"status"`
}

func newCertCheckCommand(g *Globals) *cobra.Command {
	var (
		fromKey  bool
		fromFile bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check <target>",
		Short: "Show a certificate's details and remaining validity",
		Long: `The target is host[:port] by default (port 443). With --key it is a
stored secret path holding a PEM certificate, and with --file a local PEM file.`,
		Example: `  quick cert check example.com
  quick cert check mail.example.com:993
  quick cert check --key web/example.com@cert
  quick cert check --file /etc/ssl/certs/site.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromKey && fromFile {
				return qerrors.UserError{
					Message:    "--key and --file cannot be combined",
					Suggestion: "Pick one certificate source",
				}
			}

			var (
				info certs.Info
				err  error
			)
			switch {
			case fromKey:
				env, envErr := g.Environment(cmd.Context())
				if envErr != nil {
					return envErr
				}
				pem, getErr := env.GetKey(cmd.Context(), args[0])
				if getErr != nil {
					return getErr
				}
				info, err = certs.InfoFromPEM(pem)
			case fromFile:
				pem, readErr := os.ReadFile(args[0])
				if readErr != nil {
					return qerrors.UserError{
						Message:    fmt.Sprintf("Cannot read %s", args[0]),
						Details:    readErr.Error(),
						Suggestion: "Check the file path and permissions",
						Err:        readErr,
					}
				}
				info, err = certs.InfoFromPEM(pem)
			default:
				target, parseErr := certs.ParseTarget(args[0])
				if parseErr != nil {
					return parseErr
				}
				g.log().Debug("Fetching certificate from %s", target)
				info, err = certs.FetchInfo(cmd.Context(), target, timeout)
			}
			if err != nil {
				return err
			}

			now := time.Now()
			view := certOutput{
				Source:        args[0],
				Info:          info,
				DaysRemaining: info.DaysRemaining(now),
				Status:        info.Grade(now),
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), view)
			}
			return printCert(g, cmd, view)
		},
	}
	cmd.Flags().BoolVar(&fromKey, "key", false, "Read the certificate from a stored secret")
	cmd.Flags().BoolVar(&fromFile, "file", false, "Read the certificate from a PEM file")
	cmd.Flags().DurationVar(&timeout, "timeout", certs.DefaultTimeout, "Connection timeout for remote targets")
	return cmd
}

func printCert(g *Globals, cmd *cobra.Command, view certOutput) error {
	out := cmd.OutOrStdout()
	rows := [][2]string{
		{"Source", view.Source},
		{"Subject", view.Subject},
		{"Issuer", view.Issuer},
		{"Serial", view.Serial},
		{"Not before", view.NotBefore.UTC().Format(time.RFC3339)},
		{"Not after", view.NotAfter.UTC().Format(time.RFC3339)},
		{"Fingerprint", view.Fingerprint},
	}
	if len(view.DNSNames) > 0 {
		rows = append(rows, [2]string{"DNS names", strings.Join(view.DNSNames, ", ")})
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(out, "%-12s %s\n", row[0]+":", row[1]); err != nil {
			return err
		}
	}

	color := colorGreen
	switch view.Status {
	case certs.StatusWarning:
		color = colorYellow
	case certs.StatusFail:
		color = colorRed
	}
	_, err := fmt.Fprintf(out, "%-12s %s\n", "Remaining:", g.paint(color, fmt.Sprintf("%d days", view.DaysRemaining)))
	return err
}
