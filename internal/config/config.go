package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/quickmanage/internal/contexts"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
)

const (
	// ApplicationName names the per-user config directory
	ApplicationName = "quick-manage"
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "QUICK_CONFIG"
	// DefaultContext is the context created with a fresh config
	DefaultContext = "local"

	fileName = "config.yaml"
)

//go:embed schema.json
var schema string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Files      fileaccess.FS
	Definition *Definition
}

// Definition is the config.yaml structure
type Definition struct {
	ActiveContext string                 `yaml:"active_context,omitempty"`
	Contexts      []builder.EntityRecord `yaml:"contexts"`
}

// DefaultPath returns $QUICK_CONFIG, or config.yaml in the per-user
// application config directory
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", qerrors.UserError{
			Message:    "Cannot locate the user config directory",
			Suggestion: fmt.Sprintf("Set %s or pass --config", EnvConfigPath),
			Err:        err,
		}
	}
	return filepath.Join(dir, ApplicationName, fileName), nil
}

func (c *Config) files() fileaccess.FS {
	if c.Files == nil {
		c.Files = fileaccess.NewLocal()
	}
	return c.Files
}

func (c *Config) log() *logging.Logger {
	return logging.OrDiscard(c.Logger)
}

// Load reads, schema-checks and parses the config file
func (c *Config) Load(ctx context.Context) error {
	data, err := fileaccess.ReadFile(ctx, c.files(), c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return qerrors.ConfigError{
				File:       c.Path,
				Message:    "configuration file not found",
				Suggestion: "Run any quick command without --config to create the default configuration",
				Err:        err,
			}
		}
		return qerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		var cfgErr qerrors.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.File = c.Path
			return cfgErr
		}
		return err
	}
	c.Definition = def
	return nil
}

// LoadOrInit loads the config file, creating the default one first when it
// does not exist yet
func (c *Config) LoadOrInit(ctx context.Context) error {
	exists, err := c.files().Exists(ctx, c.Path)
	if err != nil {
		return err
	}
	if !exists {
		c.log().Info("Creating default configuration at %s", c.Path)
		if err := c.initDefault(ctx); err != nil {
			return err
		}
	}
	return c.Load(ctx)
}

// initDefault writes a config with one filesystem context next to the
// config file, holding a single folder key store
func (c *Config) initDefault(ctx context.Context) error {
	dir := path.Dir(filepath.ToSlash(c.Path))
	root := path.Join(dir, DefaultContext)

	c.Definition = &Definition{
		ActiveContext: DefaultContext,
		Contexts: []builder.EntityRecord{{
			Name:   DefaultContext,
			Type:   contexts.TypeFilesystem,
			Config: map[string]any{"path": root},
		}},
	}
	if err := c.Save(ctx); err != nil {
		return err
	}

	return contexts.Initialize(ctx, c.files(), root, contexts.KeyStoresDocument{
		Stores: []builder.EntityRecord{{
			Name:   DefaultContext,
			Type:   "folder",
			Config: map[string]any{"path": path.Join(root, "keys")},
		}},
	})
}

// Save writes the definition, keeping the previous file as <path>.back
func (c *Config) Save(ctx context.Context) error {
	if c.Definition == nil {
		return qerrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	files := c.files()

	data, err := yaml.Marshal(c.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if _, err := Parse(data); err != nil {
		return err
	}

	if err := files.MakeDirs(ctx, path.Dir(filepath.ToSlash(c.Path)), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	previous, err := fileaccess.ReadFile(ctx, files, c.Path)
	switch {
	case err == nil:
		if err := fileaccess.WriteFile(ctx, files, c.Path+".back", previous); err != nil {
			return fmt.Errorf("failed to back up configuration: %w", err)
		}
		_ = files.SetPermissions(ctx, c.Path+".back", 0600)
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := fileaccess.WriteFile(ctx, files, c.Path, data); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return files.SetPermissions(ctx, c.Path, 0600)
}

// Parse validates data against the config schema and decodes it
func Parse(data []byte) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, qerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
			Err:        err,
		}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, qerrors.ConfigError{Message: "cannot decode configuration", Err: err}
	}

	seen := make(map[string]bool, len(def.Contexts))
	for i, record := range def.Contexts {
		if seen[record.Name] {
			return nil, qerrors.ConfigError{
				Field:   fmt.Sprintf("contexts[%d].name", i),
				Value:   record.Name,
				Message: "duplicate context name",
			}
		}
		seen[record.Name] = true
	}
	if def.ActiveContext != "" && !seen[def.ActiveContext] {
		return nil, qerrors.ConfigError{
			Field:      "active_context",
			Value:      def.ActiveContext,
			Message:    "active context is not declared",
			Suggestion: availableContexts(def.Contexts),
		}
	}
	return &def, nil
}

func validateSchema(document any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return qerrors.ConfigError{Message: "schema validation error", Err: err}
	}
	if result.Valid() {
		return nil
	}

	problems := result.Errors()
	messages := make([]string, 0, len(problems))
	for _, desc := range problems {
		messages = append(messages, desc.String())
	}
	return qerrors.ConfigError{
		Field:   problems[0].Field(),
		Message: "schema validation failed: " + strings.Join(messages, "; "),
	}
}

func availableContexts(records []builder.EntityRecord) string {
	if len(records) == 0 {
		return "Declare a context under 'contexts:'"
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Available contexts: %s", strings.Join(names, ", "))
}

// Context returns the record of the named context, or of the active one
// when name is empty
func (c *Config) Context(name string) (builder.EntityRecord, error) {
	if c.Definition == nil {
		return builder.EntityRecord{}, qerrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	if name == "" {
		name = c.Definition.ActiveContext
	}
	if name == "" {
		return builder.EntityRecord{}, qerrors.ConfigError{
			File:       c.Path,
			Field:      "active_context",
			Message:    "no active context",
			Suggestion: availableContexts(c.Definition.Contexts),
		}
	}
	for _, record := range c.Definition.Contexts {
		if record.Name == name {
			return record, nil
		}
	}
	return builder.EntityRecord{}, qerrors.NotFound("context", name, c.Path)
}

// ContextNames returns the declared context names in file order
func (c *Config) ContextNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.Contexts))
	for _, record := range c.Definition.Contexts {
		names = append(names, record.Name)
	}
	return names
}
