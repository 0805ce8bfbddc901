package commands

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/environment"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

func NewKeyCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage secrets in the context's key stores",
		Long: `Secrets are addressed as [store/]secret[@key].

Without a store prefix the default store is used for writes, and reads try
the default store first and then every other store. Without @key the
default sub-key "value" is used.`,
	}
	cmd.AddCommand(
		newKeyListCommand(g),
		newKeyGetCommand(g),
		newKeyPutCommand(g),
		newKeyRemoveCommand(g),
		newKeyMetaCommand(g),
		newKeyTypesCommand(g),
	)
	return cmd
}

type listingOutput struct {
	Store   string              `json:"store"`
	Type    string              `json:"type"`
	Default bool                `json:"default"`
	Secrets map[string][]string `json:"secrets"`
	Error   string              `json:"error,omitempty"`
}

func newKeyListCommand(g *Globals) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list [store]",
		Short: "List secrets and their sub-keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			store := ""
			if len(args) == 1 {
				store = args[0]
			}
			listings, err := env.ListKeys(cmd.Context(), store)
			if err != nil {
				return err
			}

			results := make([]listingOutput, 0, len(listings))
			for _, listing := range listings {
				result := listingOutput{
					Store:   listing.Store,
					Type:    listing.Type,
					Default: listing.Default,
					Secrets: map[string][]string{},
				}
				if listing.Err != nil {
					result.Error = listing.Err.Error()
				}
				for name, secret := range secretstore.Filter(listing.Secrets, prefix) {
					result.Secrets[name] = secret.KeyNames()
				}
				results = append(results, result)
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, results)
			}
			for _, result := range results {
				header := fmt.Sprintf("%s (%s)", result.Store, result.Type)
				if result.Default {
					header += " " + g.paint(colorBlue, "default")
				}
				_, _ = fmt.Fprintln(out, header)
				if result.Error != "" {
					_, _ = fmt.Fprintf(out, "  %s\n", g.paint(colorRed, "error: "+result.Error))
					continue
				}
				for _, name := range sortedKeys(result.Secrets) {
					_, _ = fmt.Fprintf(out, "  %s: %s\n", name, strings.Join(result.Secrets[name], ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "filter", "", "Only show secrets whose name starts with this prefix")
	return cmd
}

func newKeyGetCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a secret value",
		Example: `  quick key get db@password
  quick key get vault/web/example.com@fullchain > fullchain.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			value, err := env.GetKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, map[string]string{"path": args[0], "value": string(value)})
			}
			_, err = out.Write(value)
			return err
		},
	}
}

func newKeyPutCommand(g *Globals) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "put <path> [file|-]",
		Short: "Store a secret value",
		Long: `Store a value from --value, a file, or standard input ("-" or no
file argument). Existing values are overwritten.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readValue(cmd, value, args[1:])
			if err != nil {
				return err
			}
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			if err := env.PutKey(cmd.Context(), args[0], data); err != nil {
				return err
			}
			g.log().Info("Stored %s (%d bytes)", args[0], len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "Literal value to store")
	return cmd
}

func readValue(cmd *cobra.Command, literal string, args []string) ([]byte, error) {
	if cmd.Flags().Changed("value") {
		if len(args) > 0 {
			return nil, qerrors.UserError{
				Message:    "Both --value and a file were given",
				Suggestion: "Use either --value or a file argument",
			}
		}
		return []byte(literal), nil
	}
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, qerrors.UserError{
			Message:    fmt.Sprintf("Cannot read %s", args[0]),
			Details:    err.Error(),
			Suggestion: "Check the file path and permissions",
			Err:        err,
		}
	}
	return data, nil
}

func newKeyRemoveCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a sub-key, or a whole secret when no @key is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			target, err := env.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := target.Store.Remove(cmd.Context(), target.Secret, target.Key); err != nil {
				return err
			}
			g.log().Info("Removed %s from %s", args[0], target.Store.Name())
			return nil
		},
	}
}

type metaOutput struct {
	Store    string                         `json:"store" yaml:"store"`
	Secret   string                         `json:"secret" yaml:"secret"`
	Metadata map[string]any                 `json:"metadata" yaml:"metadata"`
	Keys     map[string]secretstore.KeyInfo `json:"keys" yaml:"keys"`
}

func newKeyMetaCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <path> [key=value...]",
		Short: "Show or update a secret's metadata",
		Long: `Without assignments the secret's metadata and sub-keys are shown.
Each key=value sets a metadata entry; key= removes it. Other entries are kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.Environment(cmd.Context())
			if err != nil {
				return err
			}
			target, err := env.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if len(args) > 1 {
				update, err := parseAssignments(args[1:])
				if err != nil {
					return qerrors.UserError{Message: err.Error(), Suggestion: "Write metadata as key=value"}
				}
				if err := target.Store.SetMeta(cmd.Context(), target.Secret, update); err != nil {
					return err
				}
			}

			secret, err := target.Store.GetMeta(cmd.Context(), target.Secret)
			if err != nil {
				return err
			}
			return printMeta(g, cmd.OutOrStdout(), target, secret)
		},
	}
}

func printMeta(g *Globals, out io.Writer, target environment.Target, secret secretstore.Secret) error {
	view := metaOutput{
		Store:    target.Store.Name(),
		Secret:   secret.Name,
		Metadata: secret.Metadata,
		Keys:     secret.Keys,
	}
	if g.JSON {
		return printJSON(out, view)
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(view); err != nil {
		return err
	}
	return encoder.Close()
}

func newKeyTypesCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the key store types and their configuration fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores := environment.NewBuilders(environment.BuilderOptions{}).Stores

			types := map[string][]string{}
			for _, name := range stores.TypeNames() {
				schema, err := stores.ConfigSchema(name)
				if err != nil {
					return err
				}
				types[name] = configFields(schema)
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, types)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tCONFIG\n")
			for _, name := range stores.TypeNames() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(types[name], ", "))
			}
			return w.Flush()
		},
	}
}

// configFields lists the mapstructure field names of a config struct,
// marking required ones with '*'
func configFields(t reflect.Type) []string {
	var fields []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if opts == "squash" && field.Type.Kind() == reflect.Struct {
			fields = append(fields, configFields(field.Type)...)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		if strings.Contains(field.Tag.Get("validate"), "required") {
			name += "*"
		}
		fields = append(fields, name)
	}
	return fields
}
