package keystores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/systmms/quickmanage/internal/awsutil"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client the
// store calls
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	RestoreSecret(ctx context.Context, params *secretsmanager.RestoreSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.RestoreSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// SecretsManagerConfig configures an "aws.secretsmanager" store
type SecretsManagerConfig struct {
	awsutil.Options `mapstructure:",squash"`
	Prefix          string `mapstructure:"prefix"`
	// ForceDelete skips the recovery window when a whole secret is removed
	ForceDelete bool `mapstructure:"force_delete"`
}

// smDocument is the SecretString layout: one AWS secret per quick secret
type smDocument struct {
	Metadata map[string]any   `json:"metadata"`
	Keys     map[string]smKey `json:"keys"`
}

type smKey struct {
	Value    []byte    `json:"value"`
	Modified time.Time `json:"modified"`
}

// SecretsManagerStore keeps every secret as one AWS Secrets Manager secret
// whose value is a JSON document of metadata and sub-keys
type SecretsManagerStore struct {
	name   string
	cfg    SecretsManagerConfig
	client SecretsManagerClientAPI
	logger *logging.Logger
	now    func() time.Time
}

func newSecretsManagerStore(client SecretsManagerClientAPI) builder.Constructor[SecretsManagerConfig, secretstore.KeyStore] {
	return func(ctx context.Context, name string, cfg SecretsManagerConfig, deps builder.Deps) (secretstore.KeyStore, error) {
		store := &SecretsManagerStore{
			name:   name,
			cfg:    cfg,
			client: client,
			logger: deps.Log(),
			now:    time.Now,
		}
		if store.client == nil {
			awsCfg, err := awsutil.LoadConfig(ctx, cfg.Options)
			if err != nil {
				return nil, err
			}
			store.client = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
				o.BaseEndpoint = awsutil.EndpointPtr(cfg.Endpoint)
			})
		}
		return store, nil
	}
}

func (s *SecretsManagerStore) Name() string { return s.name }
func (s *SecretsManagerStore) Type() string { return TypeSecretsManager }

func (s *SecretsManagerStore) awsName(secret string) string {
	return s.cfg.Prefix + secret
}

func isSMNotFound(err error) bool {
	return awsutil.HasCode(err, "ResourceNotFoundException")
}

// isSMPendingDeletion reports the error AWS returns for a secret removed
// without force_delete that is still inside its recovery window
func isSMPendingDeletion(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "InvalidRequestException" {
		return false
	}
	return strings.Contains(apiErr.ErrorMessage(), "deletion")
}

// load fetches and decodes one document. A missing secret, or one pending
// deletion, yields (nil, nil) so callers can decide between create and
// NotFound.
func (s *SecretsManagerStore) load(ctx context.Context, secret string) (*smDocument, error) {
	if err := secretstore.ValidateName(secret); err != nil {
		return nil, err
	}
	id := s.awsName(secret)
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		if isSMNotFound(err) || isSMPendingDeletion(err) {
			return nil, nil
		}
		return nil, awsutil.Connectivity("get secret", id, err)
	}

	doc := &smDocument{}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), doc); err != nil {
		return nil, qerrors.ConfigError{
			File:    id,
			Message: "secret value is not a quick-manage document",
			Err:     err,
		}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if doc.Keys == nil {
		doc.Keys = map[string]smKey{}
	}
	return doc, nil
}

func (s *SecretsManagerStore) save(ctx context.Context, secret string, doc *smDocument, create bool) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", secret, err)
	}
	id := s.awsName(secret)

	put := func() error {
		_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(id),
			SecretString: aws.String(string(body)),
		})
		return err
	}

	if create {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(id),
			SecretString: aws.String(string(body)),
			Description:  aws.String("managed by quick-manage"),
		})
		if isSMPendingDeletion(err) {
			// the name is held by a removed secret; restore it and overwrite
			// its old content
			s.logger.Debug("Restoring %s from its recovery window", id)
			if _, err = s.client.RestoreSecret(ctx, &secretsmanager.RestoreSecretInput{SecretId: aws.String(id)}); err == nil {
				err = put()
			}
		}
	} else {
		err = put()
	}
	if err != nil {
		return awsutil.Connectivity("store secret", id, err)
	}
	return nil
}

func (s *SecretsManagerStore) PutValue(ctx context.Context, secret, key string, value []byte) error {
	key = secretstore.KeyOrDefault(key)
	if err := secretstore.ValidateKey(key); err != nil {
		return err
	}
	doc, err := s.load(ctx, secret)
	if err != nil {
		return err
	}
	create := doc == nil
	if create {
		doc = &smDocument{Metadata: map[string]any{}, Keys: map[string]smKey{}}
	}
	doc.Keys[key] = smKey{Value: value, Modified: s.now().UTC()}
	return s.save(ctx, secret, doc, create)
}

func (s *SecretsManagerStore) GetValue(ctx context.Context, secret, key string) ([]byte, error) {
	key = secretstore.KeyOrDefault(key)
	if err := secretstore.ValidateKey(key); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, secret)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, secretstore.SecretNotFound(s.name, secret)
	}
	entry, ok := doc.Keys[key]
	if !ok {
		return nil, secretstore.KeyNotFound(s.name, secret, key)
	}
	return entry.Value, nil
}

func (s *SecretsManagerStore) Remove(ctx context.Context, secret, key string) error {
	doc, err := s.load(ctx, secret)
	if err != nil {
		return err
	}
	if doc == nil {
		return secretstore.SecretNotFound(s.name, secret)
	}

	if key == "" {
		return s.delete(ctx, secret)
	}

	if _, ok := doc.Keys[key]; !ok {
		return secretstore.KeyNotFound(s.name, secret, key)
	}
	delete(doc.Keys, key)
	// an emptied secret disappears, as an emptied folder does
	if len(doc.Keys) == 0 && len(doc.Metadata) == 0 {
		return s.delete(ctx, secret)
	}
	return s.save(ctx, secret, doc, false)
}

func (s *SecretsManagerStore) delete(ctx context.Context, secret string) error {
	id := s.awsName(secret)
	input := &secretsmanager.DeleteSecretInput{SecretId: aws.String(id)}
	if s.cfg.ForceDelete {
		input.ForceDeleteWithoutRecovery = aws.Bool(true)
	}
	if _, err := s.client.DeleteSecret(ctx, input); err != nil {
		return awsutil.Connectivity("delete secret", id, err)
	}
	return nil
}

func (s *SecretsManagerStore) GetMeta(ctx context.Context, secret string) (secretstore.Secret, error) {
	doc, err := s.load(ctx, secret)
	if err != nil {
		return secretstore.Secret{}, err
	}
	if doc == nil {
		return secretstore.Secret{}, secretstore.SecretNotFound(s.name, secret)
	}
	return docToSecret(secret, doc), nil
}

func docToSecret(secret string, doc *smDocument) secretstore.Secret {
	result := secretstore.Secret{
		Name:     secret,
		Metadata: doc.Metadata,
		Keys:     make(map[string]secretstore.KeyInfo, len(doc.Keys)),
	}
	for key, entry := range doc.Keys {
		result.Keys[key] = secretstore.KeyInfo{Modified: entry.Modified, Size: int64(len(entry.Value))}
	}
	return result
}

func (s *SecretsManagerStore) SetMeta(ctx context.Context, secret string, metadata map[string]any) error {
	doc, err := s.load(ctx, secret)
	if err != nil {
		return err
	}
	if doc == nil {
		return secretstore.SecretNotFound(s.name, secret)
	}
	doc.Metadata = secretstore.MergeMeta(doc.Metadata, metadata)
	return s.save(ctx, secret, doc, false)
}

func (s *SecretsManagerStore) All(ctx context.Context) (map[string]secretstore.Secret, error) {
	input := &secretsmanager.ListSecretsInput{}
	if s.cfg.Prefix != "" {
		input.Filters = []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{s.cfg.Prefix},
		}}
	}

	all := make(map[string]secretstore.Secret)
	paginator := secretsmanager.NewListSecretsPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awsutil.Connectivity("list secrets", s.cfg.Prefix+"*", err)
		}
		for _, entry := range page.SecretList {
			awsName := aws.ToString(entry.Name)
			if !strings.HasPrefix(awsName, s.cfg.Prefix) {
				continue
			}
			secret := strings.TrimPrefix(awsName, s.cfg.Prefix)
			if !secretstore.ValidName(secret) {
				continue
			}
			doc, err := s.load(ctx, secret)
			if errors.Is(err, qerrors.ErrConfig) {
				s.logger.Debug("Skipping %s: %v", awsName, err)
				continue
			}
			if err != nil {
				return nil, err
			}
			if doc != nil {
				all[secret] = docToSecret(secret, doc)
			}
		}
	}
	return all, nil
}
