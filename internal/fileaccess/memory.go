package fileaccess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memFile struct {
	data     []byte
	modified time.Time
	mode     fs.FileMode
}

// Memory is an in-process FS. Directories are implicit.
type Memory struct {
	mu    sync.RWMutex
	files map[string]*memFile
	dirs  map[string]fs.FileMode

	// Now stamps writes; tests replace it for stable timestamps
	Now func() time.Time

	reads int
}

// NewMemory returns an empty in-memory FS
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string]*memFile),
		dirs:  make(map[string]fs.FileMode),
		Now:   time.Now,
	}
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func (m *Memory) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = cleanPath(p)
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	if _, ok := m.dirs[p]; ok {
		return true, nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[cleanPath(p)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	m.reads++
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.data))), nil
}

func (m *Memory) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	key := cleanPath(p)
	return &bufferedWriter{commit: func(data []byte) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		mode := fs.FileMode(0600)
		if existing, ok := m.files[key]; ok {
			mode = existing.mode
		}
		m.files[key] = &memFile{data: bytes.Clone(data), modified: m.Now(), mode: mode}
		return nil
	}}, nil
}

func (m *Memory) Remove(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cleanPath(p)
	if _, ok := m.files[key]; ok {
		delete(m.files, key)
		return nil
	}
	if _, ok := m.dirs[key]; ok {
		delete(m.dirs, key)
		return nil
	}
	return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
}

func (m *Memory) List(ctx context.Context, p string, match func(FileInfo) bool) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root := cleanPath(p)
	prefix := strings.TrimSuffix(root, "/") + "/"

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// relative lookups get relative parents back
	relative := !strings.HasPrefix(p, "/")

	var found []FileInfo
	for _, name := range names {
		f := m.files[name]
		parent := path.Dir(name)
		if relative {
			parent = strings.TrimPrefix(parent, "/")
		}
		fi := FileInfo{
			Name:     path.Base(name),
			Parent:   parent,
			Modified: f.modified,
			Size:     int64(len(f.data)),
		}
		if match == nil || match(fi) {
			found = append(found, fi)
		}
	}
	return found, nil
}

func (m *Memory) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cleanPath(p)
	if f, ok := m.files[key]; ok {
		f.mode = mode
		return nil
	}
	if _, ok := m.dirs[key]; ok {
		m.dirs[key] = mode
		return nil
	}
	return &fs.PathError{Op: "chmod", Path: p, Err: fs.ErrNotExist}
}

func (m *Memory) MakeDirs(ctx context.Context, p string, mode fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dir := cleanPath(p); dir != "/"; dir = path.Dir(dir) {
		if _, ok := m.files[dir]; ok {
			return fmt.Errorf("mkdir %s: not a directory", dir)
		}
		if _, ok := m.dirs[dir]; !ok {
			m.dirs[dir] = mode
		}
	}
	return nil
}

// Mode returns the permission bits recorded for p
func (m *Memory) Mode(p string) (fs.FileMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := cleanPath(p)
	if f, ok := m.files[key]; ok {
		return f.mode, true
	}
	mode, ok := m.dirs[key]
	return mode, ok
}

// Reads counts successful Open calls
func (m *Memory) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}
