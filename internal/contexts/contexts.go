// Package contexts groups key stores and hosts under a name. A context is
// described by a record in the application config and loads the rest of
// its declarations from its own location on first use.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/keystores"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// Context types
const (
	TypeFilesystem = "filesystem"
	TypeS3         = "s3"
)

// Files a context reads from its root
const (
	KeyStoresFile = "key-stores.yaml"
	HostsFile     = "hosts.yaml"
)

// Context is a named set of key stores and hosts
type Context interface {
	Name() string
	Type() string
	// KeyStores builds the context's stores on first call and returns the
	// same map afterwards
	KeyStores(ctx context.Context) (map[string]secretstore.KeyStore, error)
	// DefaultStore names the store used when an address names none. It is
	// empty when the context has no stores.
	DefaultStore(ctx context.Context) (string, error)
	Hosts(ctx context.Context) (map[string]hosts.Config, error)
}

// KeyStoresDocument is the layout of key-stores.yaml
type KeyStoresDocument struct {
	Stores       []builder.EntityRecord `yaml:"stores"`
	DefaultStore string                 `yaml:"default_store,omitempty"`
}

// HostsDocument is the layout of hosts.yaml
type HostsDocument struct {
	Hosts map[string]hosts.Config `yaml:"hosts"`
}

// FileConfig configures a context kept in a local directory
type FileConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// S3Config configures a context kept under a bucket prefix
type S3Config struct {
	fileaccess.S3Config `mapstructure:",squash"`
	Prefix              string `mapstructure:"prefix"`
}

type storeSet struct {
	stores      map[string]secretstore.KeyStore
	defaultName string
}

// FileContext reads its declarations from YAML files under a root, through
// any fileaccess.FS
type FileContext struct {
	name     string
	typeName string
	root     string
	files    fileaccess.FS
	stores   *builder.Registry[secretstore.KeyStore]
	logger   *logging.Logger

	keyStores lazy[storeSet]
	hostSet   lazy[map[string]hosts.Config]
}

// NewFileContext builds a "filesystem" context. Its stores are built with
// deps.Stores, or the built-in store types when none is given.
func NewFileContext(ctx context.Context, name string, cfg FileConfig, deps builder.Deps) (Context, error) {
	files := deps.Files
	if files == nil {
		files = fileaccess.NewLocal()
	}
	return newFileContext(name, TypeFilesystem, filepath.ToSlash(cfg.Path), files, deps), nil
}

func newS3Context(client fileaccess.S3API) builder.Constructor[S3Config, Context] {
	return func(ctx context.Context, name string, cfg S3Config, deps builder.Deps) (Context, error) {
		var opts []fileaccess.S3Option
		if client != nil {
			opts = append(opts, fileaccess.WithS3Client(client))
		}
		files, err := fileaccess.NewS3(ctx, cfg.S3Config, opts...)
		if err != nil {
			return nil, err
		}
		return newFileContext(name, TypeS3, cfg.Prefix, files, deps), nil
	}
}

func newFileContext(name, typeName, root string, files fileaccess.FS, deps builder.Deps) *FileContext {
	stores := deps.Stores
	if stores == nil {
		stores = keystores.NewRegistry()
	}
	return &FileContext{
		name:     name,
		typeName: typeName,
		root:     root,
		files:    files,
		stores:   stores,
		logger:   deps.Log(),
	}
}

func (c *FileContext) Name() string { return c.name }
func (c *FileContext) Type() string { return c.typeName }

// Root returns the directory or prefix the context reads from
func (c *FileContext) Root() string { return c.root }

// Files returns the file access the context and its stores use
func (c *FileContext) Files() fileaccess.FS { return c.files }

func (c *FileContext) location(file string) string {
	return path.Join(c.root, file)
}

// readDocument decodes file into out. A missing file leaves out untouched
// and reports false.
func (c *FileContext) readDocument(ctx context.Context, file string, out any) (bool, error) {
	location := c.location(file)
	data, err := fileaccess.ReadFile(ctx, c.files, location)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("Context %s has no %s", c.name, file)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", location, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, qerrors.ConfigError{
			File:       location,
			Message:    "invalid YAML",
			Suggestion: "Check for indentation errors or missing quotes",
			Err:        err,
		}
	}
	return true, nil
}

func (c *FileContext) KeyStores(ctx context.Context) (map[string]secretstore.KeyStore, error) {
	set, err := c.keyStores.get(func() (storeSet, error) { return c.loadStores(ctx) })
	if err != nil {
		return nil, err
	}
	return set.stores, nil
}

func (c *FileContext) DefaultStore(ctx context.Context) (string, error) {
	set, err := c.keyStores.get(func() (storeSet, error) { return c.loadStores(ctx) })
	if err != nil {
		return "", err
	}
	return set.defaultName, nil
}

func (c *FileContext) loadStores(ctx context.Context) (storeSet, error) {
	set := storeSet{stores: map[string]secretstore.KeyStore{}}

	var doc KeyStoresDocument
	found, err := c.readDocument(ctx, KeyStoresFile, &doc)
	if err != nil || !found {
		return set, err
	}

	deps := builder.Deps{Files: c.files, Logger: c.logger}
	for i, record := range doc.Stores {
		if _, dup := set.stores[record.Name]; dup {
			return storeSet{}, qerrors.ConfigError{
				File:    c.location(KeyStoresFile),
				Field:   fmt.Sprintf("stores[%d].name", i),
				Value:   record.Name,
				Message: "duplicate key store name",
			}
		}
		store, err := c.stores.Build(ctx, record, deps)
		if err != nil {
			return storeSet{}, err
		}
		set.stores[record.Name] = store
		if set.defaultName == "" {
			set.defaultName = record.Name
		}
	}

	if doc.DefaultStore != "" {
		if _, ok := set.stores[doc.DefaultStore]; !ok {
			return storeSet{}, qerrors.ConfigError{
				File:       c.location(KeyStoresFile),
				Field:      "default_store",
				Value:      doc.DefaultStore,
				Message:    "default store is not declared",
				Suggestion: "Available stores: " + fmt.Sprint(sortedKeys(set.stores)),
			}
		}
		set.defaultName = doc.DefaultStore
	}
	c.logger.Debug("Context %s loaded %d key store(s)", c.name, len(set.stores))
	return set, nil
}

func (c *FileContext) Hosts(ctx context.Context) (map[string]hosts.Config, error) {
	return c.hostSet.get(func() (map[string]hosts.Config, error) {
		var doc HostsDocument
		if _, err := c.readDocument(ctx, HostsFile, &doc); err != nil {
			return nil, err
		}
		if doc.Hosts == nil {
			doc.Hosts = map[string]hosts.Config{}
		}
		for _, name := range sortedKeys(doc.Hosts) {
			if err := doc.Hosts[name].Validate(name); err != nil {
				return nil, err
			}
		}
		return doc.Hosts, nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
