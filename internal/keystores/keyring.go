package keystores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// keyringIndexUser names the item that lists what the store holds, since
// OS keychains cannot enumerate their items
const keyringIndexUser = ".index"

// KeyringConfig configures a "keyring" store
type KeyringConfig struct {
	// Service groups the store's items; defaults to "quick-manage/<name>"
	Service string `mapstructure:"service"`
}

type keyringEntry struct {
	Metadata map[string]any                 `json:"metadata,omitempty"`
	Keys     map[string]secretstore.KeyInfo `json:"keys"`
}

// KeyringStore keeps sub-keys in the OS keychain as items named
// "<secret>@<key>" under one service
type KeyringStore struct {
	name    string
	service string
	now     func() time.Time
}

// NewKeyring builds a "keyring" store
func NewKeyring(ctx context.Context, name string, cfg KeyringConfig, deps builder.Deps) (secretstore.KeyStore, error) {
	service := cfg.Service
	if service == "" {
		service = "quick-manage/" + name
	}
	return &KeyringStore{name: name, service: service, now: time.Now}, nil
}

func (s *KeyringStore) Name() string { return s.name }
func (s *KeyringStore) Type() string { return TypeKeyring }

func (s *KeyringStore) keychainError(op, user string, err error) error {
	return qerrors.ConnectivityError{Op: op, Target: s.service + "/" + user, Err: err}
}

func (s *KeyringStore) loadIndex() (map[string]keyringEntry, error) {
	raw, err := keyring.Get(s.service, keyringIndexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return map[string]keyringEntry{}, nil
	}
	if err != nil {
		return nil, s.keychainError("read", keyringIndexUser, err)
	}
	index := map[string]keyringEntry{}
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, qerrors.ConfigError{File: s.service, Message: "corrupt keyring index", Err: err}
	}
	return index, nil
}

func (s *KeyringStore) saveIndex(index map[string]keyringEntry) error {
	body, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to encode keyring index: %w", err)
	}
	if err := keyring.Set(s.service, keyringIndexUser, string(body)); err != nil {
		return s.keychainError("write", keyringIndexUser, err)
	}
	return nil
}

func itemUser(secret, key string) string {
	return secret + "@" + key
}

func checkAddress(secret, key string) (string, error) {
	if err := secretstore.ValidateName(secret); err != nil {
		return "", err
	}
	key = secretstore.KeyOrDefault(key)
	if err := secretstore.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *KeyringStore) PutValue(ctx context.Context, secret, key string, value []byte) error {
	key, err := checkAddress(secret, key)
	if err != nil {
		return err
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	user := itemUser(secret, key)
	if err := keyring.Set(s.service, user, base64.StdEncoding.EncodeToString(value)); err != nil {
		return s.keychainError("write", user, err)
	}

	entry := index[secret]
	if entry.Keys == nil {
		entry.Keys = map[string]secretstore.KeyInfo{}
	}
	entry.Keys[key] = secretstore.KeyInfo{Modified: s.now().UTC(), Size: int64(len(value))}
	index[secret] = entry
	return s.saveIndex(index)
}

func (s *KeyringStore) GetValue(ctx context.Context, secret, key string) ([]byte, error) {
	key, err := checkAddress(secret, key)
	if err != nil {
		return nil, err
	}

	user := itemUser(secret, key)
	raw, err := keyring.Get(s.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		index, indexErr := s.loadIndex()
		if indexErr == nil {
			if _, ok := index[secret]; !ok {
				return nil, secretstore.SecretNotFound(s.name, secret)
			}
		}
		return nil, secretstore.KeyNotFound(s.name, secret, key)
	}
	if err != nil {
		return nil, s.keychainError("read", user, err)
	}

	value, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, qerrors.ConfigError{File: s.service, Field: user, Message: "keyring item is not base64", Err: err}
	}
	return value, nil
}

func (s *KeyringStore) Remove(ctx context.Context, secret, key string) error {
	if err := secretstore.ValidateName(secret); err != nil {
		return err
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := index[secret]
	if !ok {
		return secretstore.SecretNotFound(s.name, secret)
	}

	var doomed []string
	if key == "" {
		for k := range entry.Keys {
			doomed = append(doomed, k)
		}
		delete(index, secret)
	} else {
		if err := secretstore.ValidateKey(key); err != nil {
			return err
		}
		if _, ok := entry.Keys[key]; !ok {
			return secretstore.KeyNotFound(s.name, secret, key)
		}
		doomed = []string{key}
		delete(entry.Keys, key)
		if len(entry.Keys) == 0 && len(entry.Metadata) == 0 {
			delete(index, secret)
		} else {
			index[secret] = entry
		}
	}

	for _, k := range doomed {
		user := itemUser(secret, k)
		if err := keyring.Delete(s.service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return s.keychainError("delete", user, err)
		}
	}
	return s.saveIndex(index)
}

func (s *KeyringStore) GetMeta(ctx context.Context, secret string) (secretstore.Secret, error) {
	if err := secretstore.ValidateName(secret); err != nil {
		return secretstore.Secret{}, err
	}
	index, err := s.loadIndex()
	if err != nil {
		return secretstore.Secret{}, err
	}
	entry, ok := index[secret]
	if !ok {
		return secretstore.Secret{}, secretstore.SecretNotFound(s.name, secret)
	}
	return entryToSecret(secret, entry), nil
}

func entryToSecret(secret string, entry keyringEntry) secretstore.Secret {
	result := secretstore.Secret{
		Name:     secret,
		Metadata: entry.Metadata,
		Keys:     map[string]secretstore.KeyInfo{},
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	for k, info := range entry.Keys {
		result.Keys[k] = info
	}
	return result
}

func (s *KeyringStore) SetMeta(ctx context.Context, secret string, metadata map[string]any) error {
	if err := secretstore.ValidateName(secret); err != nil {
		return err
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := index[secret]
	if !ok {
		return secretstore.SecretNotFound(s.name, secret)
	}
	entry.Metadata = secretstore.MergeMeta(entry.Metadata, metadata)
	index[secret] = entry
	return s.saveIndex(index)
}

func (s *KeyringStore) All(ctx context.Context) (map[string]secretstore.Secret, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	all := make(map[string]secretstore.Secret, len(index))
	for secret, entry := range index {
		all[secret] = entryToSecret(secret, entry)
	}
	return all, nil
}
