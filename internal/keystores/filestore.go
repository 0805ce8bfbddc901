package keystores

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// metaFile holds a secret's metadata next to its sub-keys. Sub-key names
// cannot start with '.', so it never collides with one.
const metaFile = ".meta.yaml"

const defaultFileMode = fs.FileMode(0600)

// FolderConfig configures a store on the local filesystem
type FolderConfig struct {
	Path     string `mapstructure:"path" validate:"required"`
	FileMode string `mapstructure:"file_mode" validate:"omitempty,numeric,len=4"`
}

// S3StoreConfig configures a store inside an S3 bucket
type S3StoreConfig struct {
	fileaccess.S3Config `mapstructure:",squash"`
	Prefix              string `mapstructure:"prefix"`
}

// FileStore keeps each secret as a directory of sub-key files:
//
//	<root>/<secret>/<key>
//	<root>/<secret>/.meta.yaml
//
// It serves both the local "folder" type and the "s3" type, where the root
// is the bucket prefix and every path is an object key.
type FileStore struct {
	name     string
	typeName string
	root     string
	mode     fs.FileMode
	files    fileaccess.FS
	logger   *logging.Logger

	folder FolderConfig
}

// NewFolder builds a "folder" store, creating its root owner-only when missing
func NewFolder(ctx context.Context, name string, cfg FolderConfig, deps builder.Deps) (secretstore.KeyStore, error) {
	mode := defaultFileMode
	if cfg.FileMode != "" {
		parsed, err := strconv.ParseUint(cfg.FileMode, 8, 32)
		if err != nil {
			return nil, qerrors.ValidationError{Field: "config.file_mode", Value: cfg.FileMode, Message: "must be an octal mode such as 0600"}
		}
		mode = fs.FileMode(parsed)
	}

	files := deps.Files
	if files == nil {
		files = fileaccess.NewLocal()
	}

	root := path.Clean(filepath.ToSlash(cfg.Path))
	store := &FileStore{
		name:     name,
		typeName: TypeFolder,
		root:     root,
		mode:     mode,
		files:    files,
		logger:   deps.Log(),
		folder:   cfg,
	}
	if err := store.ensureRoot(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newS3Store(client fileaccess.S3API) builder.Constructor[S3StoreConfig, secretstore.KeyStore] {
	return func(ctx context.Context, name string, cfg S3StoreConfig, deps builder.Deps) (secretstore.KeyStore, error) {
		var opts []fileaccess.S3Option
		if client != nil {
			opts = append(opts, fileaccess.WithS3Client(client))
		}
		files, err := fileaccess.NewS3(ctx, cfg.S3Config, opts...)
		if err != nil {
			return nil, err
		}
		return &FileStore{
			name:     name,
			typeName: TypeS3,
			root:     normalize(cfg.Prefix),
			mode:     defaultFileMode,
			files:    files,
			logger:   deps.Log(),
		}, nil
	}
}

// Config returns the folder configuration the store was built from
func (s *FileStore) Config() FolderConfig {
	return s.folder
}

// Root returns the directory or prefix all secrets live under
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Name() string { return s.name }
func (s *FileStore) Type() string { return s.typeName }

func (s *FileStore) ensureRoot(ctx context.Context) error {
	exists, err := s.files.Exists(ctx, s.root)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	s.logger.Debug("Creating key store folder %s", s.root)
	if err := s.files.MakeDirs(ctx, s.root, 0700); err != nil {
		return fmt.Errorf("failed to create key store folder: %w", err)
	}
	return s.files.SetPermissions(ctx, s.root, 0700)
}

func (s *FileStore) secretDir(secret string) (string, error) {
	if err := secretstore.ValidateName(secret); err != nil {
		return "", err
	}
	return contained(s.root, secret)
}

func (s *FileStore) keyPath(secret, key string) (string, error) {
	if _, err := s.secretDir(secret); err != nil {
		return "", err
	}
	key = secretstore.KeyOrDefault(key)
	if err := secretstore.ValidateKey(key); err != nil {
		return "", err
	}
	return contained(s.root, secret, key)
}

// entries lists the files directly inside a secret's directory
func (s *FileStore) entries(ctx context.Context, dir string) ([]fileaccess.FileInfo, error) {
	want := normalize(dir)
	return s.files.List(ctx, dir, func(fi fileaccess.FileInfo) bool {
		return normalize(fi.Parent) == want
	})
}

func (s *FileStore) PutValue(ctx context.Context, secret, key string, value []byte) error {
	file, err := s.keyPath(secret, key)
	if err != nil {
		return err
	}
	if err := s.files.MakeDirs(ctx, path.Dir(file), 0700); err != nil {
		return fmt.Errorf("failed to create secret folder: %w", err)
	}
	if err := fileaccess.WriteFile(ctx, s.files, file, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", secret, err)
	}
	return s.files.SetPermissions(ctx, file, s.mode)
}

// keyFile looks a sub-key up among the files of its secret. A directory at
// the key's path belongs to a nested secret and does not count.
func (s *FileStore) keyFile(ctx context.Context, file string) ([]fileaccess.FileInfo, bool, error) {
	entries, err := s.entries(ctx, path.Dir(file))
	if err != nil {
		return nil, false, err
	}
	name := path.Base(file)
	for _, entry := range entries {
		if entry.Name == name {
			return entries, true, nil
		}
	}
	return entries, false, nil
}

func (s *FileStore) GetValue(ctx context.Context, secret, key string) ([]byte, error) {
	file, err := s.keyPath(secret, key)
	if err != nil {
		return nil, err
	}

	entries, found, err := s.keyFile(ctx, file)
	if err != nil {
		return nil, err
	}
	if !found {
		if len(entries) == 0 {
			return nil, secretstore.SecretNotFound(s.name, secret)
		}
		return nil, secretstore.KeyNotFound(s.name, secret, secretstore.KeyOrDefault(key))
	}

	data, err := fileaccess.ReadFile(ctx, s.files, file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, secretstore.KeyNotFound(s.name, secret, secretstore.KeyOrDefault(key))
	}
	return data, err
}

func (s *FileStore) Remove(ctx context.Context, secret, key string) error {
	if key != "" {
		file, err := s.keyPath(secret, key)
		if err != nil {
			return err
		}
		_, found, err := s.keyFile(ctx, file)
		if err != nil {
			return err
		}
		if !found {
			return secretstore.KeyNotFound(s.name, secret, key)
		}
		return s.files.Remove(ctx, file)
	}

	dir, err := s.secretDir(secret)
	if err != nil {
		return err
	}
	entries, err := s.entries(ctx, dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return secretstore.SecretNotFound(s.name, secret)
	}
	for _, entry := range entries {
		if err := s.files.Remove(ctx, entry.Path()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Path(), err)
		}
	}

	// the directory itself goes too unless nested secrets still live in it
	rest, err := s.files.List(ctx, dir, nil)
	if err == nil && len(rest) == 0 {
		if err := s.files.Remove(ctx, dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("Leaving folder %s in place: %v", dir, err)
		}
	}
	return nil
}

func (s *FileStore) GetMeta(ctx context.Context, secret string) (secretstore.Secret, error) {
	dir, err := s.secretDir(secret)
	if err != nil {
		return secretstore.Secret{}, err
	}
	entries, err := s.entries(ctx, dir)
	if err != nil {
		return secretstore.Secret{}, err
	}
	if len(entries) == 0 {
		return secretstore.Secret{}, secretstore.SecretNotFound(s.name, secret)
	}
	return s.assemble(ctx, secret, entries)
}

func (s *FileStore) assemble(ctx context.Context, secret string, entries []fileaccess.FileInfo) (secretstore.Secret, error) {
	result, err := secretstore.NewSecret(secret)
	if err != nil {
		return secretstore.Secret{}, err
	}
	for _, entry := range entries {
		if entry.Name == metaFile {
			meta, err := s.readMeta(ctx, entry.Path())
			if err != nil {
				return secretstore.Secret{}, err
			}
			result.Metadata = meta
			continue
		}
		if !secretstore.ValidKeyName(entry.Name) {
			continue
		}
		result.Keys[entry.Name] = secretstore.KeyInfo{Modified: entry.Modified, Size: entry.Size}
	}
	return result, nil
}

func (s *FileStore) readMeta(ctx context.Context, file string) (map[string]any, error) {
	data, err := fileaccess.ReadFile(ctx, s.files, file)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, qerrors.ConfigError{File: file, Message: "invalid secret metadata", Err: err}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func (s *FileStore) SetMeta(ctx context.Context, secret string, metadata map[string]any) error {
	current, err := s.GetMeta(ctx, secret)
	if err != nil {
		return err
	}
	merged := secretstore.MergeMeta(current.Metadata, metadata)

	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	file, err := contained(s.root, secret, metaFile)
	if err != nil {
		return err
	}
	if err := fileaccess.WriteFile(ctx, s.files, file, data); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", secret, err)
	}
	return s.files.SetPermissions(ctx, file, s.mode)
}

func (s *FileStore) All(ctx context.Context) (map[string]secretstore.Secret, error) {
	files, err := s.files.List(ctx, s.root, nil)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]fileaccess.FileInfo)
	for _, fi := range files {
		if !within(s.root, fi.Parent) {
			// files sitting directly in the root are not secrets
			continue
		}
		secret := relative(s.root, fi.Parent)
		if !secretstore.ValidName(secret) {
			continue
		}
		grouped[secret] = append(grouped[secret], fi)
	}

	all := make(map[string]secretstore.Secret, len(grouped))
	for secret, entries := range grouped {
		assembled, err := s.assemble(ctx, secret, entries)
		if err != nil {
			return nil, err
		}
		all[secret] = assembled
	}
	return all, nil
}

func (s *FileStore) String() string {
	return fmt.Sprintf("%s(%s)", s.typeName, strings.TrimSuffix(s.root, "/"))
}
