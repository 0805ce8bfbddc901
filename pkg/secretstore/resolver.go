package secretstore

import (
	"context"
	"sort"
	"strings"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// KeyGetter resolves a "secret@key" address to its stored value. Delivery
// clients receive one to look up their own credentials, and the deployment
// orchestrator uses one to fetch certificate material.
type KeyGetter interface {
	GetKey(ctx context.Context, address string) ([]byte, error)
}

// KeyGetterFunc adapts a function to KeyGetter
type KeyGetterFunc func(ctx context.Context, address string) ([]byte, error)

func (f KeyGetterFunc) GetKey(ctx context.Context, address string) ([]byte, error) {
	return f(ctx, address)
}

// Resolver looks addresses up across a set of stores
type Resolver struct {
	stores       map[string]KeyStore
	defaultStore string
}

// NewResolver returns a resolver over stores. defaultStore may be empty.
func NewResolver(stores map[string]KeyStore, defaultStore string) *Resolver {
	return &Resolver{stores: stores, defaultStore: defaultStore}
}

// GetKey resolves address. When its first '/' segment names a known store
// only that store is consulted. Otherwise the default store is tried first and
// then the remaining stores in name order; the first hit wins.
func (r *Resolver) GetKey(ctx context.Context, address string) ([]byte, error) {
	if store, rest, found := strings.Cut(address, "/"); found {
		if ks, ok := r.stores[store]; ok {
			secret, key := SplitAddress(rest)
			return ks.GetValue(ctx, secret, key)
		}
	}

	secret, key := SplitAddress(address)
	for _, name := range r.order() {
		value, err := r.stores[name].GetValue(ctx, secret, key)
		if err == nil {
			return value, nil
		}
		if !qerrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, qerrors.NotFound("key", address, "any key store")
}

func (r *Resolver) order() []string {
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		if name != r.defaultStore {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := r.stores[r.defaultStore]; ok {
		names = append([]string{r.defaultStore}, names...)
	}
	return names
}
