// Package builder turns declarative entity records into live components.
//
// Each domain (contexts, key stores, host clients) owns its own Registry,
// constructed explicitly and passed to whoever needs to build from records.
// A registered type pairs a typed configuration struct with a constructor:
//
//	stores := builder.NewRegistry[secretstore.KeyStore]("key store")
//	builder.Register(stores, "folder", keystores.NewFolder)
//
//	store, err := stores.Build(ctx, builder.EntityRecord{
//	    Name:   "local",
//	    Type:   "folder",
//	    Config: map[string]any{"path": "/data/x"},
//	}, builder.Deps{Files: fileaccess.NewLocal()})
//
// The raw config map is decoded into the struct with mapstructure tags and
// then checked with validate tags, so a bad record fails with a
// ValidationError naming the offending field.
package builder

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// EntityRecord names a component, its type discriminator and its raw config
type EntityRecord struct {
	Name   string         `yaml:"name" json:"name"`
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Deps is the closed set of collaborators a registry may inject into a
// constructor. Zero fields are simply absent.
type Deps struct {
	Files   fileaccess.FS
	Keys    secretstore.KeyGetter
	Host    string
	Network map[string]any
	Stores  *Registry[secretstore.KeyStore]
	Logger  *logging.Logger
}

// Merge returns d with every non-zero field of override applied on top
func (d Deps) Merge(override Deps) Deps {
	if override.Files != nil {
		d.Files = override.Files
	}
	if override.Keys != nil {
		d.Keys = override.Keys
	}
	if override.Host != "" {
		d.Host = override.Host
	}
	if override.Network != nil {
		d.Network = override.Network
	}
	if override.Stores != nil {
		d.Stores = override.Stores
	}
	if override.Logger != nil {
		d.Logger = override.Logger
	}
	return d
}

// Log returns the injected logger, or one that discards everything
func (d Deps) Log() *logging.Logger {
	return logging.OrDiscard(d.Logger)
}

// Constructor builds a T from its decoded configuration
type Constructor[C any, T any] func(ctx context.Context, name string, cfg C, deps Deps) (T, error)

type registration[T any] struct {
	schema reflect.Type
	build  func(ctx context.Context, name string, raw map[string]any, deps Deps) (T, error)
	fixed  Deps
}

// Registry maps type discriminators to constructors for one domain
type Registry[T any] struct {
	kind  string
	types map[string]registration[T]
}

// NewRegistry returns an empty registry. kind names the domain in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		types: make(map[string]registration[T]),
	}
}

// Register adds or replaces typeName
func Register[C any, T any](r *Registry[T], typeName string, ctor Constructor[C, T]) {
	RegisterWith(r, typeName, ctor, Deps{})
}

// RegisterWith adds or replaces typeName with dependencies that are injected
// on every build. Dependencies passed to Build take precedence.
func RegisterWith[C any, T any](r *Registry[T], typeName string, ctor Constructor[C, T], fixed Deps) {
	r.types[typeName] = registration[T]{
		schema: reflect.TypeOf((*C)(nil)).Elem(),
		fixed:  fixed,
		build: func(ctx context.Context, name string, raw map[string]any, deps Deps) (T, error) {
			cfg, err := Decode[C](raw)
			if err != nil {
				var zero T
				return zero, err
			}
			return ctor(ctx, name, cfg, deps)
		},
	}
}

// Kind returns the domain name given to NewRegistry
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Build constructs the component described by record
func (r *Registry[T]) Build(ctx context.Context, record EntityRecord, deps Deps) (T, error) {
	var zero T

	reg, ok := r.types[record.Type]
	if !ok {
		return zero, qerrors.NotFoundError{Kind: r.kind + " type", Name: record.Type}
	}
	if record.Name == "" {
		return zero, qerrors.ValidationError{Field: "name", Message: fmt.Sprintf("%s record needs a name", r.kind)}
	}

	instance, err := reg.build(ctx, record.Name, record.Config, reg.fixed.Merge(deps))
	if err != nil {
		return zero, fmt.Errorf("failed to build %s '%s': %w", r.kind, record.Name, err)
	}
	return instance, nil
}

// ConfigSchema returns the configuration struct type registered for typeName
func (r *Registry[T]) ConfigSchema(typeName string) (reflect.Type, error) {
	reg, ok := r.types[typeName]
	if !ok {
		return nil, qerrors.NotFoundError{Kind: r.kind + " type", Name: typeName}
	}
	return reg.schema, nil
}

// TypeNames returns the registered discriminators in sorted order
func (r *Registry[T]) TypeNames() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether typeName is registered
func (r *Registry[T]) Has(typeName string) bool {
	_, ok := r.types[typeName]
	return ok
}
