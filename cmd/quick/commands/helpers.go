package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/systmms/quickmanage/internal/config"
	"github.com/systmms/quickmanage/internal/environment"
	"github.com/systmms/quickmanage/internal/logging"
)

// Globals carries the root command's flags to every subcommand
type Globals struct {
	ConfigPath string
	Context    string
	Debug      bool
	NoColor    bool
	JSON       bool
	Logger     *logging.Logger

	// Options are applied to every environment the commands load
	Options []environment.Option
}

// Environment loads the config and selects the context named by --context
func (g *Globals) Environment(ctx context.Context, extra ...environment.Option) (*environment.Environment, error) {
	path := g.ConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	opts := []environment.Option{environment.WithLogger(g.Logger)}
	if g.Context != "" {
		opts = append(opts, environment.WithContext(g.Context))
	}
	opts = append(opts, g.Options...)
	opts = append(opts, extra...)
	return environment.Load(ctx, path, opts...)
}

func (g *Globals) log() *logging.Logger {
	return logging.OrDiscard(g.Logger)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

const (
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[94m"
	colorReset  = "\033[0m"
)

// paint wraps text in color unless colors are disabled
func (g *Globals) paint(color, text string) string {
	if g.NoColor {
		return text
	}
	return color + text + colorReset
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseAssignments turns "k=v" arguments into a metadata update. "k=" maps
// k to nil, which deletes it.
func parseAssignments(args []string) (map[string]any, error) {
	update := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if value == "" {
			update[key] = nil
			continue
		}
		update[key] = value
	}
	return update, nil
}
