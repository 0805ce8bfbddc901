package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/quickmanage/internal/config"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fakes"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/keystores"
)

const appConfig = `
active_context: lab
contexts:
  - name: lab
    type: filesystem
    config: {path: /q/lab}
  - name: empty
    type: filesystem
    config: {path: /q/empty}
`

const labStores = `
stores:
  - name: vault
    type: folder
    config: {path: /q/lab/vault}
  - name: main
    type: folder
    config: {path: /q/lab/main}
  - name: wan
    type: s3
    config: {bucket: unreachable}
default_store: main
`

type noopExecutor struct {
	commands []string
}

func (n *noopExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	n.commands = append(n.commands, args[len(args)-1])
	return nil, nil, nil
}

type fixture struct {
	env      *Environment
	files    *fileaccess.Memory
	executor *noopExecutor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := fileaccess.NewMemory()
	write := func(p, content string) {
		require.NoError(t, fileaccess.WriteFile(ctx, mem, p, []byte(content)))
	}
	write("/q/config.yaml", appConfig)
	write("/q/lab/key-stores.yaml", labStores)

	unreachable := fakes.NewFakeS3Client()
	unreachable.Err = errors.New("dial tcp: connection refused")

	executor := &noopExecutor{}
	builders := NewBuilders(BuilderOptions{
		Executor: executor,
		Stores:   []keystores.Option{keystores.WithS3Client(unreachable)},
	})

	opts = append([]Option{WithFiles(mem), WithBuilders(builders)}, opts...)
	env, err := Load(ctx, "/q/config.yaml", opts...)
	require.NoError(t, err)
	return &fixture{env: env, files: mem, executor: executor}
}

func (f *fixture) put(t *testing.T, store, secret, key, value string) {
	t.Helper()
	ks, err := f.env.Store(context.Background(), store)
	require.NoError(t, err)
	require.NoError(t, ks.PutValue(context.Background(), secret, key, []byte(value)))
}

func TestBuildersRegisterEverything(t *testing.T) {
	b := NewBuilders(BuilderOptions{})

	assert.Equal(t, []string{"filesystem", "s3"}, b.Contexts.TypeNames())
	assert.Equal(t, []string{"aws.secretsmanager", "aws.ssm", "folder", "keyring", "s3"}, b.Stores.TypeNames())
	assert.Equal(t, []string{"kubernetes", "local", "ssh"}, b.Clients.TypeNames())
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	ctx := context.Background()
	mem := fileaccess.NewMemory()

	env, err := Load(ctx, "/home/ops/.config/quick-manage/config.yaml", WithFiles(mem))
	require.NoError(t, err)

	active, err := env.Context(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultContext, active.Name())

	require.NoError(t, env.PutKey(ctx, "db@password", []byte("pw")))
	value, err := env.GetKey(ctx, "db@password")
	require.NoError(t, err)
	assert.Equal(t, "pw", string(value))
}

func TestContextSelection(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	active, err := f.env.Context(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lab", active.Name())

	again, err := f.env.Context(ctx)
	require.NoError(t, err)
	assert.Same(t, active, again)

	other := newFixture(t, WithContext("empty"))
	selected, err := other.env.Context(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty", selected.Name())

	missing := newFixture(t, WithContext("prod"))
	_, err = missing.env.Context(ctx)
	assert.True(t, qerrors.IsNotFound(err))
}

func TestListKeysCapturesStoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "main", "db", "password", "a")
	f.put(t, "vault", "web/example.com", "private", "b")

	listings, err := f.env.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Len(t, listings, 3)

	assert.Equal(t, "main", listings[0].Store)
	assert.True(t, listings[0].Default)
	assert.NoError(t, listings[0].Err)
	assert.Contains(t, listings[0].Secrets, "db")

	assert.Equal(t, "vault", listings[1].Store)
	assert.False(t, listings[1].Default)
	assert.Contains(t, listings[1].Secrets, "web/example.com")

	assert.Equal(t, "wan", listings[2].Store)
	assert.ErrorIs(t, listings[2].Err, qerrors.ErrConnectivity)
	assert.Empty(t, listings[2].Secrets)
}

func TestListKeysSingleStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	listings, err := f.env.ListKeys(ctx, "vault")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "folder", listings[0].Type)

	_, err = f.env.ListKeys(ctx, "nope")
	assert.True(t, qerrors.IsNotFound(err))
}

func TestGetKeySearchesDefaultFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "main", "api", "", "from-main")
	f.put(t, "vault", "api", "", "from-vault")
	f.put(t, "vault", "only-vault", "token", "v")

	value, err := f.env.GetKey(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "from-main", string(value))

	value, err = f.env.GetKey(ctx, "vault/api")
	require.NoError(t, err)
	assert.Equal(t, "from-vault", string(value))

	value, err = f.env.GetKey(ctx, "only-vault@token")
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))

	_, err = f.env.GetKey(ctx, "vault/absent")
	assert.True(t, qerrors.IsNotFound(err))

	// a store that cannot answer ends the search instead of being skipped
	_, err = f.env.GetKey(ctx, "absent")
	assert.ErrorIs(t, err, qerrors.ErrConnectivity)
}

func TestPutKeyTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.env.PutKey(ctx, "vault/web/example.com@fullchain", []byte("chain")))
	require.NoError(t, f.env.PutKey(ctx, "web/example.com@fullchain", []byte("default")))

	vault, err := fileaccess.ReadFile(ctx, f.files, "/q/lab/vault/web/example.com/fullchain")
	require.NoError(t, err)
	assert.Equal(t, "chain", string(vault))

	main, err := fileaccess.ReadFile(ctx, f.files, "/q/lab/main/web/example.com/fullchain")
	require.NoError(t, err)
	assert.Equal(t, "default", string(main))

	err = f.env.PutKey(ctx, "../escape", []byte("x"))
	assert.ErrorIs(t, err, qerrors.ErrValidation)
}

func TestStoreWithoutStores(t *testing.T) {
	f := newFixture(t, WithContext("empty"))

	_, err := f.env.Store(context.Background(), "")
	assert.ErrorIs(t, err, qerrors.ErrConfig)
}

func TestHostDeployment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	registry := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(hosts.NewMetrics(registry)))

	hostsYAML := `
hosts:
  web:
    host: localhost
    clients:
      - name: here
        type: local
    certs:
      - name: site
        secret: web/example.com
        deploy:
          client: here
          fullchain: ` + filepath.Join(dir, "fullchain.pem") + `
          private: ` + filepath.Join(dir, "private.pem") + `
          post:
            - client: here
              actions: ["nginx -s reload"]
`
	require.NoError(t, fileaccess.WriteFile(ctx, f.files, "/q/lab/hosts.yaml", []byte(hostsYAML)))
	f.put(t, "vault", "web/example.com", "fullchain", "CHAIN")
	f.put(t, "main", "web/example.com", "private", "KEY")

	declared, err := f.env.Hosts(ctx)
	require.NoError(t, err)
	assert.Contains(t, declared, "web")

	host, err := f.env.Host(ctx, "web")
	require.NoError(t, err)
	cert, err := host.Cert("site")
	require.NoError(t, err)

	report, err := host.DeployCert(ctx, cert, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Completed())

	chain, err := os.ReadFile(filepath.Join(dir, "fullchain.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CHAIN", string(chain))
	assert.Equal(t, []string{"nginx -s reload"}, f.executor.commands)

	count, err := testutil.GatherAndCount(registry, "quick_deploy_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "transfer and command series")

	_, err = f.env.Host(ctx, "db")
	assert.True(t, qerrors.IsNotFound(err))
}
