// Package environment wires the application config to live contexts, key
// stores and hosts. It is what the CLI talks to.
package environment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"k8s.io/client-go/kubernetes"

	"github.com/systmms/quickmanage/internal/clients/local"
	k8sclient "github.com/systmms/quickmanage/internal/clients/kubernetes"
	sshclient "github.com/systmms/quickmanage/internal/clients/ssh"
	"github.com/systmms/quickmanage/internal/config"
	"github.com/systmms/quickmanage/internal/contexts"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/keystores"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/exec"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// Builders holds one registry per buildable domain
type Builders struct {
	Contexts *builder.Registry[contexts.Context]
	Stores   *builder.Registry[secretstore.KeyStore]
	Clients  *builder.Registry[hosts.Client]
}

// BuilderOptions substitutes collaborators of the built-in types
type BuilderOptions struct {
	Executor   exec.CommandExecutor
	SSHDialer  sshclient.Dialer
	Kubernetes kubernetes.Interface
	Stores     []keystores.Option
	Contexts   []contexts.Option
}

// NewBuilders returns registries with every built-in type registered
func NewBuilders(opts BuilderOptions) *Builders {
	executor := opts.Executor
	if executor == nil {
		executor = exec.DefaultExecutor()
	}

	clients := hosts.NewRegistry()
	local.Register(clients, executor)
	sshclient.Register(clients, opts.SSHDialer)
	k8sclient.Register(clients, opts.Kubernetes)

	return &Builders{
		Contexts: contexts.NewRegistry(opts.Contexts...),
		Stores:   keystores.NewRegistry(opts.Stores...),
		Clients:  clients,
	}
}

// Environment is the loaded config plus the context selected for this run
type Environment struct {
	config      *config.Config
	builders    *Builders
	files       fileaccess.FS
	logger      *logging.Logger
	metrics     *hosts.Metrics
	contextName string

	mu     sync.Mutex
	active contexts.Context
}

// Option configures an Environment
type Option func(*Environment)

// WithBuilders replaces the default registries
func WithBuilders(b *Builders) Option {
	return func(e *Environment) {
		e.builders = b
	}
}

// WithFiles sets the FS filesystem contexts read through
func WithFiles(files fileaccess.FS) Option {
	return func(e *Environment) {
		e.files = files
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Environment) {
		e.logger = logging.OrDiscard(l)
	}
}

// WithMetrics records deployments made through Host on m
func WithMetrics(m *hosts.Metrics) Option {
	return func(e *Environment) {
		e.metrics = m
	}
}

// WithContext selects a context other than the active one
func WithContext(name string) Option {
	return func(e *Environment) {
		e.contextName = name
	}
}

// New returns an environment over a loaded config
func New(cfg *config.Config, opts ...Option) *Environment {
	e := &Environment{
		config: cfg,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builders == nil {
		e.builders = NewBuilders(BuilderOptions{})
	}
	return e
}

// Load reads the config at path, creating the default one when missing,
// and returns an environment over it
func Load(ctx context.Context, path string, opts ...Option) (*Environment, error) {
	e := New(nil, opts...)
	e.config = &config.Config{Path: path, Logger: e.logger, Files: e.files}
	if err := e.config.LoadOrInit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Environment) Config() *config.Config {
	return e.config
}

func (e *Environment) Builders() *Builders {
	return e.builders
}

// Context builds the selected context on first use
func (e *Environment) Context(ctx context.Context) (contexts.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return e.active, nil
	}
	built, err := e.ContextByName(ctx, e.contextName)
	if err != nil {
		return nil, err
	}
	e.active = built
	return built, nil
}

// ContextByName builds the named context, or the active one for ""
func (e *Environment) ContextByName(ctx context.Context, name string) (contexts.Context, error) {
	record, err := e.config.Context(name)
	if err != nil {
		return nil, err
	}
	return e.builders.Contexts.Build(ctx, record, builder.Deps{
		Files:  e.files,
		Stores: e.builders.Stores,
		Logger: e.logger,
	})
}

// StoreListing is the content of one store, or why it could not be read
type StoreListing struct {
	Store   string                        `json:"store"`
	Type    string                        `json:"type"`
	Default bool                          `json:"default"`
	Secrets map[string]secretstore.Secret `json:"secrets"`
	Err     error                         `json:"-"`
}

// ListKeys lists every store of the context, or only the named one. A
// store that fails to list is reported in its listing rather than failing
// the whole call.
func (e *Environment) ListKeys(ctx context.Context, store string) ([]StoreListing, error) {
	stores, defaultName, err := e.stores(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(stores))
	if store != "" {
		if _, ok := stores[store]; !ok {
			return nil, qerrors.NotFound("key store", store, "context "+e.contextLabel(ctx))
		}
		names = append(names, store)
	} else {
		for name := range stores {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	listings := make([]StoreListing, 0, len(names))
	for _, name := range names {
		ks := stores[name]
		listing := StoreListing{Store: name, Type: ks.Type(), Default: name == defaultName}
		listing.Secrets, listing.Err = ks.All(ctx)
		if listing.Err != nil {
			e.logger.Debug("Listing store %s failed: %v", name, listing.Err)
			listing.Secrets = map[string]secretstore.Secret{}
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (e *Environment) stores(ctx context.Context) (map[string]secretstore.KeyStore, string, error) {
	active, err := e.Context(ctx)
	if err != nil {
		return nil, "", err
	}
	stores, err := active.KeyStores(ctx)
	if err != nil {
		return nil, "", err
	}
	defaultName, err := active.DefaultStore(ctx)
	if err != nil {
		return nil, "", err
	}
	return stores, defaultName, nil
}

func (e *Environment) contextLabel(ctx context.Context) string {
	if active, err := e.Context(ctx); err == nil {
		return active.Name()
	}
	return e.contextName
}

// Store returns the named store, or the default store for ""
func (e *Environment) Store(ctx context.Context, name string) (secretstore.KeyStore, error) {
	stores, defaultName, err := e.stores(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultName
	}
	if name == "" {
		return nil, qerrors.ConfigError{
			Field:      "stores",
			Message:    fmt.Sprintf("context %s has no key stores", e.contextLabel(ctx)),
			Suggestion: "Declare a store in " + contexts.KeyStoresFile,
		}
	}
	ks, ok := stores[name]
	if !ok {
		return nil, qerrors.NotFound("key store", name, "context "+e.contextLabel(ctx))
	}
	return ks, nil
}

// Target is a write address resolved to a store
type Target struct {
	Store  secretstore.KeyStore
	Secret string
	Key    string
}

// Resolve maps "[store/]secret[@key]" to a store. A leading segment that
// names no store is part of the secret name and the default store is used.
func (e *Environment) Resolve(ctx context.Context, text string) (Target, error) {
	stores, _, err := e.stores(ctx)
	if err != nil {
		return Target{}, err
	}

	address := text
	storeName := ""
	if first, rest, found := strings.Cut(text, "/"); found {
		if _, ok := stores[first]; ok {
			storeName, address = first, rest
		}
	}

	ks, err := e.Store(ctx, storeName)
	if err != nil {
		return Target{}, err
	}
	secret, key := secretstore.SplitAddress(address)
	if err := secretstore.ValidateName(secret); err != nil {
		return Target{}, err
	}
	return Target{Store: ks, Secret: secret, Key: key}, nil
}

// KeyGetter resolves addresses across the context's stores, default first
func (e *Environment) KeyGetter(ctx context.Context) (secretstore.KeyGetter, error) {
	stores, defaultName, err := e.stores(ctx)
	if err != nil {
		return nil, err
	}
	return secretstore.NewResolver(stores, defaultName), nil
}

// GetKey reads "[store/]secret[@key]". Without a store the default store is
// tried first and then every other store.
func (e *Environment) GetKey(ctx context.Context, address string) ([]byte, error) {
	keys, err := e.KeyGetter(ctx)
	if err != nil {
		return nil, err
	}
	return keys.GetKey(ctx, address)
}

// PutKey writes value at "[store/]secret[@key]"
func (e *Environment) PutKey(ctx context.Context, address string, value []byte) error {
	target, err := e.Resolve(ctx, address)
	if err != nil {
		return err
	}
	e.logger.Debug("Writing %s@%s to store %s", target.Secret, secretstore.KeyOrDefault(target.Key), target.Store.Name())
	return target.Store.PutValue(ctx, target.Secret, target.Key, value)
}

// Hosts returns the host declarations of the context
func (e *Environment) Hosts(ctx context.Context) (map[string]hosts.Config, error) {
	active, err := e.Context(ctx)
	if err != nil {
		return nil, err
	}
	return active.Hosts(ctx)
}

// Host returns the named host wired to the context's stores
func (e *Environment) Host(ctx context.Context, name string) (*hosts.Host, error) {
	declared, err := e.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := declared[name]
	if !ok {
		return nil, qerrors.NotFound("host", name, "context "+e.contextLabel(ctx))
	}
	keys, err := e.KeyGetter(ctx)
	if err != nil {
		return nil, err
	}
	return hosts.New(name, cfg, e.builders.Clients, keys,
		hosts.WithMetrics(e.metrics),
		hosts.WithLogger(e.logger),
	), nil
}
