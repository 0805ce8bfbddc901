// Package fileaccess is the byte-oriented storage shim the key stores and
// contexts are written against. Paths are slash separated; the local
// implementation maps them onto the host filesystem and the S3 implementation
// treats them as object keys.
package fileaccess

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"time"
)

// FileInfo describes one stored file
type FileInfo struct {
	Name     string
	Parent   string
	Modified time.Time
	Size     int64
}

// Path returns the full slash path of the file
func (f FileInfo) Path() string {
	return path.Join(f.Parent, f.Name)
}

// FS is the file-access capability consumed by the core. Missing files are
// reported with errors matching fs.ErrNotExist.
type FS interface {
	Exists(ctx context.Context, p string) (bool, error)
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	// Create returns a sink that replaces the file content when closed
	Create(ctx context.Context, p string) (io.WriteCloser, error)
	Remove(ctx context.Context, p string) error
	// List walks everything under p. A nil match accepts every file. A
	// missing p yields an empty list.
	List(ctx context.Context, p string, match func(FileInfo) bool) ([]FileInfo, error)
	SetPermissions(ctx context.Context, p string, mode fs.FileMode) error
	MakeDirs(ctx context.Context, p string, mode fs.FileMode) error
}

// ReadFile reads the whole file at p
func ReadFile(ctx context.Context, files FS, p string) ([]byte, error) {
	r, err := files.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile replaces the file at p with data
func WriteFile(ctx context.Context, files FS, p string, data []byte) error {
	w, err := files.Create(ctx, p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// bufferedWriter collects writes and hands the result to commit on Close
type bufferedWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
	closed bool
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	return w.commit(w.buf.Bytes())
}
