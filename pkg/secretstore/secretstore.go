package secretstore

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// DefaultKey is the sub-key used when a caller does not name one
const DefaultKey = "value"

var (
	secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-/.]*[A-Za-z0-9_]$`)
	keyNamePattern    = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_.\-]*[A-Za-z0-9_])?$`)
)

// KeyStore is the capability set every secret backend provides.
//
// Secrets are addressed by name and hold any number of sub-keys. An empty
// key argument means DefaultKey for PutValue and GetValue, and the whole
// secret for Remove.
type KeyStore interface {
	// Name returns the store's configured instance name
	Name() string

	// Type returns the registry discriminator the store was built from
	Type() string

	// PutValue creates or overwrites one sub-key
	PutValue(ctx context.Context, secret, key string, value []byte) error

	// GetValue returns one sub-key; NotFound when the secret or key is absent
	GetValue(ctx context.Context, secret, key string) ([]byte, error)

	// Remove deletes one sub-key, or the whole secret when key is empty
	Remove(ctx context.Context, secret, key string) error

	// GetMeta returns the secret's metadata and enumerated sub-keys
	GetMeta(ctx context.Context, secret string) (Secret, error)

	// SetMeta merges metadata into an existing secret. A nil value removes
	// that metadata entry.
	SetMeta(ctx context.Context, secret string, metadata map[string]any) error

	// All enumerates every secret the store holds
	All(ctx context.Context) (map[string]Secret, error)
}

// KeyInfo describes a stored sub-key without carrying its value
type KeyInfo struct {
	Modified time.Time `json:"modified" yaml:"modified"`
	Size     int64     `json:"size" yaml:"size"`
}

// Secret is the metadata view of one stored secret
type Secret struct {
	Name     string             `json:"name" yaml:"name"`
	Metadata map[string]any     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Keys     map[string]KeyInfo `json:"keys,omitempty" yaml:"keys,omitempty"`
}

// NewSecret returns an empty Secret, failing when name breaks the grammar
func NewSecret(name string) (Secret, error) {
	if err := ValidateName(name); err != nil {
		return Secret{}, err
	}
	return Secret{
		Name:     name,
		Metadata: map[string]any{},
		Keys:     map[string]KeyInfo{},
	}, nil
}

// KeyNames returns the secret's sub-key names in sorted order
func (s Secret) KeyNames() []string {
	names := make([]string, 0, len(s.Keys))
	for name := range s.Keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidName reports whether name is a legal secret name: alphanumeric or
// underscore at both ends, with '.', '-' and '/' also allowed inside
func ValidName(name string) bool {
	return secretNamePattern.MatchString(name)
}

// ValidKeyName reports whether key is a legal sub-key name
func ValidKeyName(key string) bool {
	return keyNamePattern.MatchString(key)
}

// ValidateName returns a ValidationError for an illegal secret name
func ValidateName(name string) error {
	if !ValidName(name) {
		return qerrors.ValidationError{
			Field:   "secret",
			Value:   name,
			Message: "must start and end with a letter, digit or underscore and contain only letters, digits, '_', '-', '.' and '/'",
		}
	}
	return nil
}

// ValidateKey returns a ValidationError for an illegal sub-key name
func ValidateKey(key string) error {
	if !ValidKeyName(key) {
		return qerrors.ValidationError{
			Field:   "key",
			Value:   key,
			Message: "must start and end with a letter, digit or underscore and contain only letters, digits, '_', '-' and '.'",
		}
	}
	return nil
}

// KeyOrDefault maps an empty key to DefaultKey
func KeyOrDefault(key string) string {
	if key == "" {
		return DefaultKey
	}
	return key
}

// Filter returns the secrets whose name starts with prefix
func Filter(secrets map[string]Secret, prefix string) map[string]Secret {
	if prefix == "" {
		return secrets
	}
	filtered := make(map[string]Secret)
	for name, secret := range secrets {
		if strings.HasPrefix(name, prefix) {
			filtered[name] = secret
		}
	}
	return filtered
}

// SortedNames returns the map's secret names in sorted order
func SortedNames(secrets map[string]Secret) []string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MergeMeta applies a SetMeta update to existing metadata in place
func MergeMeta(existing, update map[string]any) map[string]any {
	if existing == nil {
		existing = map[string]any{}
	}
	for k, v := range update {
		if v == nil {
			delete(existing, k)
			continue
		}
		existing[k] = v
	}
	return existing
}

// SecretNotFound builds the NotFound error for a missing secret
func SecretNotFound(store, secret string) error {
	return qerrors.NotFound("secret", secret, "key store "+store)
}

// KeyNotFound builds the NotFound error for a missing sub-key
func KeyNotFound(store, secret, key string) error {
	return qerrors.NotFound("key", secret+"@"+key, "key store "+store)
}
