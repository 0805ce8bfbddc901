// Package hosts deploys certificate material to hosts through their
// declared delivery clients.
package hosts

import (
	"context"
	"fmt"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// Client delivers data to a host and runs commands there
type Client interface {
	PutData(ctx context.Context, destination string, data []byte) error
	Action(ctx context.Context, command string) error
	Close() error
}

// NewRegistry returns an empty delivery client registry
func NewRegistry() *builder.Registry[Client] {
	return builder.NewRegistry[Client]("host client")
}

// Host is a configured machine together with what it takes to reach it
type Host struct {
	name    string
	config  Config
	clients *builder.Registry[Client]
	keys    secretstore.KeyGetter
	metrics *Metrics
	logger  *logging.Logger
}

// Option configures a Host
type Option func(*Host)

// WithMetrics records deployment steps on m
func WithMetrics(m *Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithLogger sets the logger handed to built clients
func WithLogger(l *logging.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// New wraps config. Clients are built from clients on demand, and keys
// resolves the "secret@key" addresses they and deployments need.
func New(name string, config Config, clients *builder.Registry[Client], keys secretstore.KeyGetter, opts ...Option) *Host {
	h := &Host{
		name:    name,
		config:  config,
		clients: clients,
		keys:    keys,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Name() string {
	return h.name
}

func (h *Host) Config() Config {
	return h.config
}

// Cert looks up a certificate deployment by name
func (h *Host) Cert(name string) (CertConfig, error) {
	cert, ok := h.config.Cert(name)
	if !ok {
		return CertConfig{}, qerrors.NotFound("certificate", name, "host "+h.name)
	}
	return cert, nil
}

// ClientByType builds the first client of type typeName. A host without
// one yields (nil, nil).
func (h *Host) ClientByType(ctx context.Context, typeName string) (Client, error) {
	for _, record := range h.config.Clients {
		if record.Type == typeName {
			return h.build(ctx, record)
		}
	}
	return nil, nil
}

// ClientByName builds the client called name. Every call returns a fresh
// instance; a host without one yields (nil, nil).
func (h *Host) ClientByName(ctx context.Context, name string) (Client, error) {
	for _, record := range h.config.Clients {
		if record.Name == name {
			return h.build(ctx, record)
		}
	}
	return nil, nil
}

func (h *Host) build(ctx context.Context, record builder.EntityRecord) (Client, error) {
	if h.clients == nil {
		return nil, fmt.Errorf("host %s has no client registry", h.name)
	}
	return h.clients.Build(ctx, record, builder.Deps{
		Keys:    h.keys,
		Host:    h.config.Host,
		Network: h.config.Network,
		Logger:  h.logger,
	})
}

// Run executes command through the named client
func (h *Host) Run(ctx context.Context, clientName, command string) error {
	client, err := h.ClientByName(ctx, clientName)
	if err != nil {
		return err
	}
	if client == nil {
		return qerrors.NotFound("host client", clientName, "host "+h.name)
	}
	defer client.Close()
	return client.Action(ctx, command)
}
