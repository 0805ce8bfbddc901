package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/pkg/builder"
)

type call struct {
	name string
	args []string
}

type fakeExecutor struct {
	calls  []call
	stdout string
	stderr string
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func buildClient(t *testing.T, executor *fakeExecutor, config map[string]any, deps builder.Deps) hosts.Client {
	t.Helper()
	r := hosts.NewRegistry()
	Register(r, executor)
	client, err := r.Build(context.Background(), builder.EntityRecord{Name: "here", Type: Type, Config: config}, deps)
	require.NoError(t, err)
	return client
}

func TestPutDataWritesFile(t *testing.T) {
	dir := t.TempDir()
	client := buildClient(t, &fakeExecutor{}, nil, builder.Deps{})
	dest := filepath.Join(dir, "etc", "nginx", "fullchain.pem")

	require.NoError(t, client.PutData(context.Background(), dest, []byte("-----BEGIN CERTIFICATE-----")))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0600), info.Mode().Perm())
}

func TestPutDataOverwritesWithConfiguredMode(t *testing.T) {
	ctx := context.Background()
	mem := fileaccess.NewMemory()
	client := buildClient(t, &fakeExecutor{}, map[string]any{"mode": "0644"}, builder.Deps{Files: mem})

	require.NoError(t, client.PutData(ctx, "/srv/cert.pem", []byte("old")))
	require.NoError(t, client.PutData(ctx, "/srv/cert.pem", []byte("new")))

	data, err := fileaccess.ReadFile(ctx, mem, "/srv/cert.pem")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	mode, ok := mem.Mode("/srv/cert.pem")
	require.True(t, ok)
	assert.Equal(t, fs.FileMode(0644), mode)
}

func TestBadMode(t *testing.T) {
	r := hosts.NewRegistry()
	Register(r, &fakeExecutor{})

	_, err := r.Build(context.Background(), builder.EntityRecord{
		Name: "here", Type: Type, Config: map[string]any{"mode": "0899"},
	}, builder.Deps{})
	var validation qerrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "config.mode", validation.Field)
}

func TestActionRunsShell(t *testing.T) {
	executor := &fakeExecutor{stdout: "reloaded"}
	client := buildClient(t, executor, nil, builder.Deps{})

	require.NoError(t, client.Action(context.Background(), "systemctl reload nginx"))

	require.Len(t, executor.calls, 1)
	assert.Equal(t, "sh", executor.calls[0].name)
	assert.Equal(t, []string{"-c", "systemctl reload nginx"}, executor.calls[0].args)
}

func TestActionFailure(t *testing.T) {
	executor := &fakeExecutor{stderr: "unit nginx not found\n", err: errors.New("exit status 5")}
	client := buildClient(t, executor, nil, builder.Deps{})

	err := client.Action(context.Background(), "systemctl reload nginx")

	var cmdErr qerrors.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "systemctl reload nginx", cmdErr.Command)
	assert.Equal(t, "unit nginx not found", cmdErr.Message)
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestDeployThroughHost(t *testing.T) {
	ctx := context.Background()
	mem := fileaccess.NewMemory()
	executor := &fakeExecutor{}

	clients := hosts.NewRegistry()
	Register(clients, executor)
	// deliveries land in mem because the registration pins it
	builder.RegisterWith(clients, Type, New(executor), builder.Deps{Files: mem})

	keys := keyGetter(map[string]string{
		"web/example.com@fullchain": "chain",
		"web/example.com@private":   "key",
	})
	host := hosts.New("web", hosts.Config{
		Host:    "localhost",
		Clients: []builder.EntityRecord{{Name: "here", Type: Type}},
	}, clients, keys)

	report, err := host.DeployCert(ctx, hosts.CertConfig{
		Name:   "site",
		Secret: "web/example.com",
		Deploy: hosts.DeployConfig{
			Client:    "here",
			Fullchain: "/etc/ssl/fullchain.pem",
			Private:   "/etc/ssl/private.pem",
			Post:      []hosts.ClientAction{{Client: "here", Actions: []string{"nginx -s reload"}}},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Completed())

	data, err := fileaccess.ReadFile(ctx, mem, "/etc/ssl/private.pem")
	require.NoError(t, err)
	assert.Equal(t, "key", string(data))
	require.Len(t, executor.calls, 1)
}
