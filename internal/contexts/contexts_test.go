package contexts

import (
	"context"
	"io/fs"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fakes"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/keystores"
	"github.com/systmms/quickmanage/pkg/builder"
)

const storesYAML = `
stores:
  - name: local
    type: folder
    config:
      path: /ctx/keys
  - name: backup
    type: folder
    config:
      path: /ctx/backup
`

const hostsYAML = `
hosts:
  web:
    host: 10.0.0.5
    description: public web server
    network:
      lan: 10.0.0.0/24
    clients:
      - name: ssh
        type: ssh
        config:
          user: deploy
    certs:
      - name: site
        secret: web/example.com
        deploy:
          client: ssh
          fullchain: /etc/nginx/fullchain.pem
          private: /etc/nginx/private.pem
          post:
            - client: ssh
              actions: ["systemctl reload nginx"]
`

func newMemoryContext(t *testing.T, files map[string]string) (Context, *fileaccess.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := fileaccess.NewMemory()
	for name, content := range files {
		require.NoError(t, fileaccess.WriteFile(ctx, mem, name, []byte(content)))
	}

	c, err := NewRegistry().Build(ctx, builder.EntityRecord{
		Name:   "test",
		Type:   TypeFilesystem,
		Config: map[string]any{"path": "/ctx"},
	}, builder.Deps{Files: mem, Stores: keystores.NewRegistry()})
	require.NoError(t, err)
	return c, mem
}

func TestKeyStoresAreCached(t *testing.T) {
	c, mem := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": storesYAML})
	ctx := context.Background()

	first, err := c.KeyStores(ctx)
	require.NoError(t, err)
	readsAfterFirst := mem.Reads()
	assert.Equal(t, 1, readsAfterFirst)

	second, err := c.KeyStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	assert.Equal(t, readsAfterFirst, mem.Reads())

	_, err = c.DefaultStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, readsAfterFirst, mem.Reads())

	assert.Len(t, first, 2)
	assert.Equal(t, keystores.TypeFolder, first["local"].Type())
}

func TestFirstStoreIsDefault(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": storesYAML})

	name, err := c.DefaultStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", name)
}

func TestDeclaredDefaultStore(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{
		"/ctx/key-stores.yaml": storesYAML + "default_store: backup\n",
	})

	name, err := c.DefaultStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backup", name)
}

func TestUnknownDefaultStore(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{
		"/ctx/key-stores.yaml": storesYAML + "default_store: vault\n",
	})

	_, err := c.KeyStores(context.Background())
	var cfgErr qerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "default_store", cfgErr.Field)
}

func TestMissingKeyStoresFile(t *testing.T) {
	c, _ := newMemoryContext(t, nil)
	ctx := context.Background()

	stores, err := c.KeyStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, stores)

	name, err := c.DefaultStore(ctx)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestMalformedKeyStoresFileIsNotCached(t *testing.T) {
	c, mem := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": "stores: [unclosed"})
	ctx := context.Background()

	_, err := c.KeyStores(ctx)
	assert.ErrorIs(t, err, qerrors.ErrConfig)

	require.NoError(t, fileaccess.WriteFile(ctx, mem, "/ctx/key-stores.yaml", []byte(storesYAML)))
	stores, err := c.KeyStores(ctx)
	require.NoError(t, err)
	assert.Len(t, stores, 2)
}

func TestStoreBuildFailure(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": `
stores:
  - name: vault
    type: hashicorp
`})

	_, err := c.KeyStores(context.Background())
	assert.ErrorIs(t, err, qerrors.ErrNotFound)
}

func TestDuplicateStoreNames(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": `
stores:
  - {name: a, type: folder, config: {path: /one}}
  - {name: a, type: folder, config: {path: /two}}
`})

	_, err := c.KeyStores(context.Background())
	var cfgErr qerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "stores[1].name", cfgErr.Field)
}

func TestStoresUseContextFiles(t *testing.T) {
	c, mem := newMemoryContext(t, map[string]string{"/ctx/key-stores.yaml": storesYAML})
	ctx := context.Background()

	stores, err := c.KeyStores(ctx)
	require.NoError(t, err)
	require.NoError(t, stores["local"].PutValue(ctx, "db", "", []byte("pw")))

	data, err := fileaccess.ReadFile(ctx, mem, "/ctx/keys/db/value")
	require.NoError(t, err)
	assert.Equal(t, "pw", string(data))
}

func TestHosts(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{"/ctx/hosts.yaml": hostsYAML})

	all, err := c.Hosts(context.Background())
	require.NoError(t, err)
	require.Contains(t, all, "web")

	web := all["web"]
	assert.Equal(t, "10.0.0.5", web.Host)
	assert.Equal(t, "public web server", web.Description)
	require.Len(t, web.Clients, 1)
	assert.Equal(t, map[string]any{"user": "deploy"}, web.Clients[0].Config)

	cert, ok := web.Cert("site")
	require.True(t, ok)
	assert.Equal(t, "/etc/nginx/private.pem", cert.Deploy.Private)
	assert.Equal(t, []string{"systemctl reload nginx"}, cert.Deploy.Post[0].Actions)
}

func TestMissingHostsFile(t *testing.T) {
	c, _ := newMemoryContext(t, nil)

	all, err := c.Hosts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInvalidHost(t *testing.T) {
	c, _ := newMemoryContext(t, map[string]string{"/ctx/hosts.yaml": `
hosts:
  web:
    certs:
      - name: site
        secret: s
        deploy: {client: ssh}
`})

	_, err := c.Hosts(context.Background())
	var validation qerrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "hosts.web.host", validation.Field)
}

func TestS3Context(t *testing.T) {
	ctx := context.Background()
	bucket := fakes.NewFakeS3Client()
	bucket.Objects["team/key-stores.yaml"] = []byte(`
stores:
  - name: shared
    type: folder
    config: {path: team/keys}
`)

	c, err := NewRegistry(WithS3Client(bucket)).Build(ctx, builder.EntityRecord{
		Name:   "team",
		Type:   TypeS3,
		Config: map[string]any{"bucket": "ops", "prefix": "team"},
	}, builder.Deps{})
	require.NoError(t, err)
	assert.Equal(t, TypeS3, c.Type())

	stores, err := c.KeyStores(ctx)
	require.NoError(t, err)
	require.Contains(t, stores, "shared")

	require.NoError(t, stores["shared"].PutValue(ctx, "api", "token", []byte("t0k3n")))
	assert.Equal(t, []byte("t0k3n"), bucket.Objects["team/keys/api/token"])
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	mem := fileaccess.NewMemory()
	doc := KeyStoresDocument{
		Stores:       []builder.EntityRecord{{Name: "local", Type: "folder", Config: map[string]any{"path": "/home/u/keys"}}},
		DefaultStore: "local",
	}

	require.NoError(t, Initialize(ctx, mem, "/home/u/ctx", doc))

	mode, ok := mem.Mode("/home/u/ctx")
	require.True(t, ok)
	assert.Equal(t, fs.FileMode(0700), mode)

	c, err := NewFileContext(ctx, "local", FileConfig{Path: "/home/u/ctx"}, builder.Deps{Files: mem})
	require.NoError(t, err)
	name, err := c.DefaultStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local", name)

	// an existing file is left alone
	require.NoError(t, Initialize(ctx, mem, "/home/u/ctx", KeyStoresDocument{}))
	data, err := fileaccess.ReadFile(ctx, mem, "/home/u/ctx/key-stores.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "/home/u/keys")
}

func TestContextRegistryTypes(t *testing.T) {
	assert.Equal(t, []string{TypeFilesystem, TypeS3}, NewRegistry().TypeNames())
}
