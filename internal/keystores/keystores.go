// Package keystores implements the secret store backends and registers them
// with a key store registry.
//
// Every backend enforces the same name grammar and produces the same
// secretstore.Secret view, so a secret can move between stores without its
// callers noticing.
package keystores

import (
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// Type discriminators accepted in key store records
const (
	TypeFolder         = "folder"
	TypeS3             = "s3"
	TypeSecretsManager = "aws.secretsmanager"
	TypeSSM            = "aws.ssm"
	TypeKeyring        = "keyring"
)

type clients struct {
	s3             fileaccess.S3API
	secretsManager SecretsManagerClientAPI
	ssm            SSMClientAPI
}

// Option adjusts how Register builds the remote backends
type Option func(*clients)

// WithS3Client makes "s3" stores use client instead of a real one (for testing)
func WithS3Client(client fileaccess.S3API) Option {
	return func(c *clients) {
		c.s3 = client
	}
}

// WithSecretsManagerClient makes "aws.secretsmanager" stores use client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) Option {
	return func(c *clients) {
		c.secretsManager = client
	}
}

// WithSSMClient makes "aws.ssm" stores use client (for testing)
func WithSSMClient(client SSMClientAPI) Option {
	return func(c *clients) {
		c.ssm = client
	}
}

// Register adds every built-in backend to r
func Register(r *builder.Registry[secretstore.KeyStore], opts ...Option) {
	var c clients
	for _, opt := range opts {
		opt(&c)
	}

	builder.Register(r, TypeFolder, NewFolder)
	builder.Register(r, TypeS3, newS3Store(c.s3))
	builder.Register(r, TypeSecretsManager, newSecretsManagerStore(c.secretsManager))
	builder.Register(r, TypeSSM, newSSMStore(c.ssm))
	builder.Register(r, TypeKeyring, NewKeyring)
}

// NewRegistry returns a key store registry with every built-in backend
func NewRegistry(opts ...Option) *builder.Registry[secretstore.KeyStore] {
	r := builder.NewRegistry[secretstore.KeyStore]("key store")
	Register(r, opts...)
	return r
}
