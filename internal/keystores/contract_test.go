package keystores

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fakes"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

var mockKeyring sync.Once

// storeFactory builds a fresh, empty store for one test
type storeFactory func(t *testing.T) secretstore.KeyStore

func build(t *testing.T, r *builder.Registry[secretstore.KeyStore], record builder.EntityRecord, deps builder.Deps) secretstore.KeyStore {
	t.Helper()
	store, err := r.Build(context.Background(), record, deps)
	require.NoError(t, err)
	return store
}

func allBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"folder/local": func(t *testing.T) secretstore.KeyStore {
			return build(t, NewRegistry(), builder.EntityRecord{
				Name:   "local",
				Type:   TypeFolder,
				Config: map[string]any{"path": filepath.Join(t.TempDir(), "keys")},
			}, builder.Deps{})
		},
		"folder/memory": func(t *testing.T) secretstore.KeyStore {
			return build(t, NewRegistry(), builder.EntityRecord{
				Name:   "mem",
				Type:   TypeFolder,
				Config: map[string]any{"path": "/data/x"},
			}, builder.Deps{Files: fileaccess.NewMemory()})
		},
		"s3": func(t *testing.T) secretstore.KeyStore {
			return build(t, NewRegistry(WithS3Client(fakes.NewFakeS3Client())), builder.EntityRecord{
				Name:   "bucket",
				Type:   TypeS3,
				Config: map[string]any{"bucket": "certs", "prefix": "quick/keys"},
			}, builder.Deps{})
		},
		"aws.secretsmanager": func(t *testing.T) secretstore.KeyStore {
			return build(t, NewRegistry(WithSecretsManagerClient(fakes.NewFakeSecretsManagerClient())), builder.EntityRecord{
				Name:   "sm",
				Type:   TypeSecretsManager,
				Config: map[string]any{"prefix": "quick/", "region": "eu-west-1"},
			}, builder.Deps{})
		},
		"aws.ssm": func(t *testing.T) secretstore.KeyStore {
			return build(t, NewRegistry(WithSSMClient(fakes.NewFakeSSMClient())), builder.EntityRecord{
				Name:   "params",
				Type:   TypeSSM,
				Config: map[string]any{"path": "/quick"},
			}, builder.Deps{})
		},
		"keyring": func(t *testing.T) secretstore.KeyStore {
			mockKeyring.Do(keyring.MockInit)
			return build(t, NewRegistry(), builder.EntityRecord{
				Name:   "os",
				Type:   TypeKeyring,
				Config: map[string]any{"service": "quick-test/" + t.Name()},
			}, builder.Deps{})
		},
	}
}

func TestKeyStoreContract(t *testing.T) {
	for name, factory := range allBackends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			runKeyStoreContract(t, factory)
		})
	}
}

// runKeyStoreContract checks the behaviour every backend must share
func runKeyStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("missing secret", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetValue(ctx, "absent", "")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		_, err = store.GetMeta(ctx, "absent")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		assert.ErrorIs(t, store.SetMeta(ctx, "absent", map[string]any{"a": "b"}), qerrors.ErrNotFound)
		assert.ErrorIs(t, store.Remove(ctx, "absent", ""), qerrors.ErrNotFound)
		assert.ErrorIs(t, store.Remove(ctx, "absent", "key"), qerrors.ErrNotFound)

		all, err := store.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("put get remove", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "s", "k", []byte("v")))
		value, err := store.GetValue(ctx, "s", "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(value))

		require.NoError(t, store.Remove(ctx, "s", "k"))
		_, err = store.GetValue(ctx, "s", "k")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
	})

	t.Run("default key and overwrite", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "api/token", "", []byte("one")))
		require.NoError(t, store.PutValue(ctx, "api/token", "", []byte("two")))
		require.NoError(t, store.PutValue(ctx, "api/token", "", []byte("two")))

		value, err := store.GetValue(ctx, "api/token", "")
		require.NoError(t, err)
		assert.Equal(t, "two", string(value))

		value, err = store.GetValue(ctx, "api/token", secretstore.DefaultKey)
		require.NoError(t, err)
		assert.Equal(t, "two", string(value))
	})

	t.Run("missing key in existing secret", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "web/example.com", "fullchain", []byte("chain")))

		_, err := store.GetValue(ctx, "web/example.com", "private")
		var notFound qerrors.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "key", notFound.Kind)
		assert.ErrorIs(t, store.Remove(ctx, "web/example.com", "private"), qerrors.ErrNotFound)
	})

	t.Run("meta enumerates keys", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "web/example.com", "fullchain", []byte("chain-data")))
		require.NoError(t, store.PutValue(ctx, "web/example.com", "private", []byte("key")))

		secret, err := store.GetMeta(ctx, "web/example.com")
		require.NoError(t, err)
		assert.Equal(t, "web/example.com", secret.Name)
		assert.Equal(t, []string{"fullchain", "private"}, secret.KeyNames())
		assert.Equal(t, int64(len("chain-data")), secret.Keys["fullchain"].Size)
		assert.Empty(t, secret.Metadata)
	})

	t.Run("set meta merges", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "db", "password", []byte("pw")))
		require.NoError(t, store.SetMeta(ctx, "db", map[string]any{"owner": "ops", "env": "staging"}))
		require.NoError(t, store.SetMeta(ctx, "db", map[string]any{"env": "prod", "owner": nil}))

		secret, err := store.GetMeta(ctx, "db")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"env": "prod"}, secret.Metadata)
		assert.Equal(t, []string{"password"}, secret.KeyNames())
	})

	t.Run("all and filter", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "web/a.com", "cert", []byte("a")))
		require.NoError(t, store.PutValue(ctx, "web/b.com", "cert", []byte("b")))
		require.NoError(t, store.PutValue(ctx, "db", "", []byte("c")))

		all, err := store.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"db", "web/a.com", "web/b.com"}, secretstore.SortedNames(all))
		assert.Equal(t, []string{"cert"}, all["web/a.com"].KeyNames())
		assert.Equal(t, []string{"web/a.com", "web/b.com"}, secretstore.SortedNames(secretstore.Filter(all, "web/")))
	})

	t.Run("remove whole secret", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "web/example.com", "fullchain", []byte("x")))
		require.NoError(t, store.PutValue(ctx, "web/example.com", "private", []byte("y")))
		require.NoError(t, store.PutValue(ctx, "other", "", []byte("z")))

		require.NoError(t, store.Remove(ctx, "web/example.com", ""))

		_, err := store.GetMeta(ctx, "web/example.com")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		_, err = store.GetValue(ctx, "web/example.com", "private")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)

		all, err := store.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, secretstore.SortedNames(all))
	})

	t.Run("put again after remove", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "db", "password", []byte("old")))
		require.NoError(t, store.Remove(ctx, "db", ""))
		_, err := store.GetValue(ctx, "db", "password")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		assert.ErrorIs(t, store.Remove(ctx, "db", ""), qerrors.ErrNotFound)

		require.NoError(t, store.PutValue(ctx, "db", "user", []byte("admin")))
		value, err := store.GetValue(ctx, "db", "user")
		require.NoError(t, err)
		assert.Equal(t, "admin", string(value))
		_, err = store.GetValue(ctx, "db", "password")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)

		// removing the last sub-key empties the secret the same way
		require.NoError(t, store.Remove(ctx, "db", "user"))
		_, err = store.GetMeta(ctx, "db")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		require.NoError(t, store.PutValue(ctx, "db", "", []byte("again")))
		value, err = store.GetValue(ctx, "db", "")
		require.NoError(t, err)
		assert.Equal(t, "again", string(value))
	})

	t.Run("nested secret is not a key", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PutValue(ctx, "aa/bb", "", []byte("inner")))
		require.NoError(t, store.PutValue(ctx, "aa", "", []byte("outer")))

		_, err := store.GetValue(ctx, "aa", "bb")
		assert.ErrorIs(t, err, qerrors.ErrNotFound)
		assert.ErrorIs(t, store.Remove(ctx, "aa", "bb"), qerrors.ErrNotFound)

		value, err := store.GetValue(ctx, "aa/bb", "")
		require.NoError(t, err)
		assert.Equal(t, "inner", string(value))
	})

	t.Run("invalid names", func(t *testing.T) {
		store := newStore(t)

		assert.ErrorIs(t, store.PutValue(ctx, "-bad", "", []byte("x")), qerrors.ErrValidation)
		assert.ErrorIs(t, store.PutValue(ctx, "good", "bad/key", []byte("x")), qerrors.ErrValidation)
		assert.ErrorIs(t, store.PutValue(ctx, "good", ".hidden", []byte("x")), qerrors.ErrValidation)
		_, err := store.GetValue(ctx, "trailing/", "")
		assert.ErrorIs(t, err, qerrors.ErrValidation)
	})
}
