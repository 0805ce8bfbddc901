package fileaccess

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Local is the FS backed by the host filesystem
type Local struct{}

// NewLocal returns the host filesystem implementation
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(filepath.FromSlash(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return os.Open(filepath.FromSlash(p))
}

// Create truncates or creates the file owner-only; callers widen it with
// SetPermissions when needed
func (l *Local) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	return os.OpenFile(filepath.FromSlash(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
}

func (l *Local) Remove(ctx context.Context, p string) error {
	return os.Remove(filepath.FromSlash(p))
}

func (l *Local) List(ctx context.Context, p string, match func(FileInfo) bool) ([]FileInfo, error) {
	root := filepath.FromSlash(p)
	var found []FileInfo

	err := filepath.WalkDir(root, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			if walked == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		slashed := filepath.ToSlash(walked)
		fi := FileInfo{
			Name:     path.Base(slashed),
			Parent:   path.Dir(slashed),
			Modified: info.ModTime(),
			Size:     info.Size(),
		}
		if match == nil || match(fi) {
			found = append(found, fi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (l *Local) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	return os.Chmod(filepath.FromSlash(p), mode)
}

func (l *Local) MakeDirs(ctx context.Context, p string, mode fs.FileMode) error {
	return os.MkdirAll(filepath.FromSlash(p), mode)
}
