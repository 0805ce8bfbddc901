package fileaccess

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fakes"
)

// fsUnderTest pairs an FS with the root its paths should live under
type fsUnderTest struct {
	name string
	fs   FS
	root string
}

func allFileSystems(t *testing.T) []fsUnderTest {
	t.Helper()

	s3fs, err := NewS3(context.Background(), S3Config{Bucket: "certs"}, WithS3Client(fakes.NewFakeS3Client()))
	require.NoError(t, err)

	return []fsUnderTest{
		{name: "local", fs: NewLocal(), root: filepath.ToSlash(t.TempDir())},
		{name: "memory", fs: NewMemory(), root: "/data/x"},
		{name: "s3", fs: s3fs, root: "prefix"},
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range allFileSystems(t) {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			file := path.Join(tc.root, "web", "cert")
			require.NoError(t, tc.fs.MakeDirs(ctx, path.Dir(file), 0700))

			exists, err := tc.fs.Exists(ctx, file)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = ReadFile(ctx, tc.fs, file)
			assert.ErrorIs(t, err, fs.ErrNotExist)

			require.NoError(t, WriteFile(ctx, tc.fs, file, []byte("first")))
			require.NoError(t, WriteFile(ctx, tc.fs, file, []byte("second")))

			data, err := ReadFile(ctx, tc.fs, file)
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), data)

			exists, err = tc.fs.Exists(ctx, file)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, tc.fs.Remove(ctx, file))
			exists, err = tc.fs.Exists(ctx, file)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestFileSystemList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range allFileSystems(t) {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			files := map[string]string{
				"a/value":        "1",
				"a/.meta.yaml":   "{}",
				"b/nested/value": "22",
			}
			for name, data := range files {
				full := path.Join(tc.root, name)
				require.NoError(t, tc.fs.MakeDirs(ctx, path.Dir(full), 0700))
				require.NoError(t, WriteFile(ctx, tc.fs, full, []byte(data)))
			}

			all, err := tc.fs.List(ctx, tc.root, nil)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			values, err := tc.fs.List(ctx, tc.root, func(fi FileInfo) bool {
				return fi.Name == "value"
			})
			require.NoError(t, err)
			require.Len(t, values, 2)

			var rels []string
			for _, fi := range values {
				rel, err := filepath.Rel(filepath.FromSlash(tc.root), filepath.FromSlash(fi.Path()))
				require.NoError(t, err)
				rels = append(rels, filepath.ToSlash(rel))
			}
			sort.Strings(rels)
			assert.Equal(t, []string{"a/value", "b/nested/value"}, rels)

			missing, err := tc.fs.List(ctx, path.Join(tc.root, "nope"), nil)
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestLocalPermissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := NewLocal()

	dir := filepath.ToSlash(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, local.MakeDirs(ctx, dir, 0700))

	file := dir + "/secret"
	require.NoError(t, WriteFile(ctx, local, file, []byte("x")))

	info, err := os.Stat(filepath.FromSlash(file))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, local.SetPermissions(ctx, file, 0640))
	info, err = os.Stat(filepath.FromSlash(file))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, WriteFile(ctx, mem, "/x", []byte("abc")))
	data, err := ReadFile(ctx, mem, "/x")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := ReadFile(ctx, mem, "/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
	assert.Equal(t, 2, mem.Reads())
}

func TestMemoryModes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.MakeDirs(ctx, "/root/store", 0700))
	mode, ok := mem.Mode("/root/store")
	require.True(t, ok)
	assert.Equal(t, fs.FileMode(0700), mode)

	require.NoError(t, WriteFile(ctx, mem, "/root/store/k", []byte("v")))
	mode, _ = mem.Mode("/root/store/k")
	assert.Equal(t, fs.FileMode(0600), mode)

	require.NoError(t, mem.SetPermissions(ctx, "/root/store/k", 0644))
	mode, _ = mem.Mode("/root/store/k")
	assert.Equal(t, fs.FileMode(0644), mode)

	assert.ErrorIs(t, mem.SetPermissions(ctx, "/missing", 0600), fs.ErrNotExist)
}

func TestS3DirectoryExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s3fs, err := NewS3(ctx, S3Config{Bucket: "b"}, WithS3Client(fakes.NewFakeS3Client()))
	require.NoError(t, err)

	require.NoError(t, WriteFile(ctx, s3fs, "root/secret/value", []byte("v")))

	exists, err := s3fs.Exists(ctx, "root/secret")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s3fs.Exists(ctx, "root/other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3TransportErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := fakes.NewFakeS3Client()
	client.Err = errors.New("dial tcp: connection refused")
	s3fs, err := NewS3(ctx, S3Config{Bucket: "b"}, WithS3Client(client))
	require.NoError(t, err)

	_, err = ReadFile(ctx, s3fs, "x")
	assert.ErrorIs(t, err, qerrors.ErrConnectivity)
	assert.NotErrorIs(t, err, fs.ErrNotExist)

	_, err = s3fs.List(ctx, "", nil)
	assert.ErrorIs(t, err, qerrors.ErrConnectivity)
}
