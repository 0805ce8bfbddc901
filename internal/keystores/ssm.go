package keystores

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/quickmanage/internal/awsutil"
	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// ssmMetaParam holds a secret's metadata as a JSON String parameter
const ssmMetaParam = ".meta"

// SSMClientAPI is the subset of the SSM client the store calls
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMConfig configures an "aws.ssm" store
type SSMConfig struct {
	awsutil.Options `mapstructure:",squash"`
	Path            string `mapstructure:"path" validate:"required,startswith=/"`
	KMSKeyID        string `mapstructure:"kms_key_id"`
}

// SSMStore maps secrets onto the parameter hierarchy <path>/<secret>/<key>.
// Sub-keys are SecureString parameters and hold text.
type SSMStore struct {
	name   string
	cfg    SSMConfig
	root   string
	client SSMClientAPI
	logger *logging.Logger
}

func newSSMStore(client SSMClientAPI) builder.Constructor[SSMConfig, secretstore.KeyStore] {
	return func(ctx context.Context, name string, cfg SSMConfig, deps builder.Deps) (secretstore.KeyStore, error) {
		store := &SSMStore{
			name:   name,
			cfg:    cfg,
			root:   path.Clean(cfg.Path),
			client: client,
			logger: deps.Log(),
		}
		if store.client == nil {
			awsCfg, err := awsutil.LoadConfig(ctx, cfg.Options)
			if err != nil {
				return nil, err
			}
			store.client = ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
				o.BaseEndpoint = awsutil.EndpointPtr(cfg.Endpoint)
			})
		}
		return store, nil
	}
}

func (s *SSMStore) Name() string { return s.name }
func (s *SSMStore) Type() string { return TypeSSM }

func isParameterNotFound(err error) bool {
	return awsutil.HasCode(err, "ParameterNotFound")
}

func (s *SSMStore) secretPath(secret string) (string, error) {
	if err := secretstore.ValidateName(secret); err != nil {
		return "", err
	}
	return contained(s.root, secret)
}

func (s *SSMStore) paramName(secret, key string) (string, error) {
	if _, err := s.secretPath(secret); err != nil {
		return "", err
	}
	key = secretstore.KeyOrDefault(key)
	if err := secretstore.ValidateKey(key); err != nil {
		return "", err
	}
	return contained(s.root, secret, key)
}

// children returns the parameters directly under dir, decrypted
func (s *SSMStore) children(ctx context.Context, dir string, recursive bool) ([]types.Parameter, error) {
	var params []types.Parameter
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(dir),
		Recursive:      aws.Bool(recursive),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awsutil.Connectivity("list parameters", dir, err)
		}
		params = append(params, page.Parameters...)
	}
	return params, nil
}

func (s *SSMStore) PutValue(ctx context.Context, secret, key string, value []byte) error {
	name, err := s.paramName(secret, key)
	if err != nil {
		return err
	}
	input := &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(string(value)),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if s.cfg.KMSKeyID != "" {
		input.KeyId = aws.String(s.cfg.KMSKeyID)
	}
	if _, err := s.client.PutParameter(ctx, input); err != nil {
		return awsutil.Connectivity("put parameter", name, err)
	}
	return nil
}

func (s *SSMStore) GetValue(ctx context.Context, secret, key string) ([]byte, error) {
	name, err := s.paramName(secret, key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err == nil {
		return []byte(aws.ToString(out.Parameter.Value)), nil
	}
	if !isParameterNotFound(err) {
		return nil, awsutil.Connectivity("get parameter", name, err)
	}

	siblings, listErr := s.children(ctx, path.Dir(name), false)
	if listErr == nil && len(siblings) == 0 {
		return nil, secretstore.SecretNotFound(s.name, secret)
	}
	return nil, secretstore.KeyNotFound(s.name, secret, secretstore.KeyOrDefault(key))
}

func (s *SSMStore) Remove(ctx context.Context, secret, key string) error {
	if key != "" {
		name, err := s.paramName(secret, key)
		if err != nil {
			return err
		}
		if _, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)}); err != nil {
			if isParameterNotFound(err) {
				return secretstore.KeyNotFound(s.name, secret, key)
			}
			return awsutil.Connectivity("delete parameter", name, err)
		}
		return nil
	}

	dir, err := s.secretPath(secret)
	if err != nil {
		return err
	}
	params, err := s.children(ctx, dir, false)
	if err != nil {
		return err
	}
	if len(params) == 0 {
		return secretstore.SecretNotFound(s.name, secret)
	}
	for _, p := range params {
		if _, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: p.Name}); err != nil && !isParameterNotFound(err) {
			return awsutil.Connectivity("delete parameter", aws.ToString(p.Name), err)
		}
	}
	return nil
}

func (s *SSMStore) GetMeta(ctx context.Context, secret string) (secretstore.Secret, error) {
	dir, err := s.secretPath(secret)
	if err != nil {
		return secretstore.Secret{}, err
	}
	params, err := s.children(ctx, dir, false)
	if err != nil {
		return secretstore.Secret{}, err
	}
	if len(params) == 0 {
		return secretstore.Secret{}, secretstore.SecretNotFound(s.name, secret)
	}
	return s.assemble(secret, params)
}

func (s *SSMStore) assemble(secret string, params []types.Parameter) (secretstore.Secret, error) {
	result, err := secretstore.NewSecret(secret)
	if err != nil {
		return secretstore.Secret{}, err
	}
	for _, p := range params {
		name := path.Base(aws.ToString(p.Name))
		if name == ssmMetaParam {
			meta := map[string]any{}
			if err := json.Unmarshal([]byte(aws.ToString(p.Value)), &meta); err != nil {
				return secretstore.Secret{}, qerrors.ConfigError{File: aws.ToString(p.Name), Message: "invalid secret metadata", Err: err}
			}
			result.Metadata = meta
			continue
		}
		if !secretstore.ValidKeyName(name) {
			continue
		}
		result.Keys[name] = secretstore.KeyInfo{
			Modified: aws.ToTime(p.LastModifiedDate),
			Size:     int64(len(aws.ToString(p.Value))),
		}
	}
	return result, nil
}

func (s *SSMStore) SetMeta(ctx context.Context, secret string, metadata map[string]any) error {
	current, err := s.GetMeta(ctx, secret)
	if err != nil {
		return err
	}
	body, err := json.Marshal(secretstore.MergeMeta(current.Metadata, metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	name, err := contained(s.root, secret, ssmMetaParam)
	if err != nil {
		return err
	}
	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(string(body)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return awsutil.Connectivity("put parameter", name, err)
	}
	return nil
}

func (s *SSMStore) All(ctx context.Context) (map[string]secretstore.Secret, error) {
	params, err := s.children(ctx, s.root, true)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]types.Parameter)
	for _, p := range params {
		parent := path.Dir(aws.ToString(p.Name))
		if !within(s.root, parent) {
			continue
		}
		secret := relative(s.root, parent)
		if !secretstore.ValidName(secret) {
			continue
		}
		grouped[secret] = append(grouped[secret], p)
	}

	all := make(map[string]secretstore.Secret, len(grouped))
	for secret, group := range grouped {
		assembled, err := s.assemble(secret, group)
		if err != nil {
			return nil, err
		}
		all[secret] = assembled
	}
	return all, nil
}
