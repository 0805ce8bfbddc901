package contexts

import (
	"context"
	"fmt"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/pkg/builder"
)

// Option adjusts how Register builds contexts
type Option func(*options)

type options struct {
	s3 fileaccess.S3API
}

// WithS3Client makes "s3" contexts use client (for testing)
func WithS3Client(client fileaccess.S3API) Option {
	return func(o *options) {
		o.s3 = client
	}
}

// Register adds the built-in context types to r
func Register(r *builder.Registry[Context], opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	builder.Register(r, TypeFilesystem, NewFileContext)
	builder.Register(r, TypeS3, newS3Context(o.s3))
}

// NewRegistry returns a context registry with the built-in types
func NewRegistry(opts ...Option) *builder.Registry[Context] {
	r := builder.NewRegistry[Context]("context")
	Register(r, opts...)
	return r
}

// Initialize prepares root as a context location: the directory is created
// owner-only and key-stores.yaml is written from doc unless one exists.
func Initialize(ctx context.Context, files fileaccess.FS, root string, doc KeyStoresDocument) error {
	if err := files.MakeDirs(ctx, root, 0700); err != nil {
		return fmt.Errorf("failed to create context folder %s: %w", root, err)
	}
	if err := files.SetPermissions(ctx, root, 0700); err != nil {
		return fmt.Errorf("failed to restrict context folder %s: %w", root, err)
	}

	location := path.Join(root, KeyStoresFile)
	exists, err := files.Exists(ctx, location)
	if err != nil || exists {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode key stores: %w", err)
	}
	if err := fileaccess.WriteFile(ctx, files, location, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	return files.SetPermissions(ctx, location, 0600)
}
