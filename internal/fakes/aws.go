package fakes

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeS3Client is an in-memory bucket
type FakeS3Client struct {
	mu      sync.Mutex
	Objects map[string][]byte
	// Err, when set, is returned from every call
	Err error
	Now func() time.Time
}

// NewFakeS3Client creates an empty fake bucket
func NewFakeS3Client() *FakeS3Client {
	return &FakeS3Client{Objects: make(map[string][]byte), Now: time.Now}
}

func (f *FakeS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.Objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(bytes.Clone(data)))}, nil
}

func (f *FakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	delete(f.Objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.Objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *FakeS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	if limit := int(aws.ToInt32(params.MaxKeys)); limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := &s3.ListObjectsV2Output{KeyCount: aws.Int32(int32(len(keys)))}
	now := f.Now()
	for _, key := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(f.Objects[key]))),
			LastModified: aws.Time(now),
		})
	}
	return out, nil
}

// FakeSecretsManagerClient keeps secrets as name -> SecretString
type FakeSecretsManagerClient struct {
	mu      sync.Mutex
	Secrets map[string]string
	// Errors maps secret names to errors to return
	Errors map[string]error
	// Deleted records DeleteSecret calls with their force flag
	Deleted map[string]bool
	// Pending holds secrets deleted without force, still in their recovery
	// window. Reads and writes on them fail the way AWS does.
	Pending map[string]string
}

// NewFakeSecretsManagerClient creates an empty fake
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]string),
		Errors:  make(map[string]error),
		Deleted: make(map[string]bool),
		Pending: make(map[string]string),
	}
}

func smNotFound() error {
	return &smtypes.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
}

func smMarkedForDeletion() error {
	return &smtypes.InvalidRequestException{Message: aws.String("You can't perform this operation on the secret because it was marked for deletion.")}
}

func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Pending[name]; ok {
		return nil, smMarkedForDeletion()
	}
	value, ok := f.Secrets[name]
	if !ok {
		return nil, smNotFound()
	}
	return &secretsmanager.GetSecretValueOutput{Name: aws.String(name), SecretString: aws.String(value)}, nil
}

func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Pending[name]; ok {
		return nil, smMarkedForDeletion()
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, &smtypes.ResourceExistsException{Message: aws.String("already exists")}
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	return &secretsmanager.CreateSecretOutput{Name: aws.String(name)}, nil
}

func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Pending[name]; ok {
		return nil, smMarkedForDeletion()
	}
	if _, ok := f.Secrets[name]; !ok {
		return nil, smNotFound()
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	return &secretsmanager.PutSecretValueOutput{Name: aws.String(name)}, nil
}

func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	force := aws.ToBool(params.ForceDeleteWithoutRecovery)
	if _, ok := f.Pending[name]; ok {
		if !force {
			return nil, smMarkedForDeletion()
		}
		delete(f.Pending, name)
		f.Deleted[name] = true
		return &secretsmanager.DeleteSecretOutput{Name: aws.String(name)}, nil
	}
	value, ok := f.Secrets[name]
	if !ok {
		return nil, smNotFound()
	}
	delete(f.Secrets, name)
	if !force {
		f.Pending[name] = value
	}
	f.Deleted[name] = force
	return &secretsmanager.DeleteSecretOutput{Name: aws.String(name)}, nil
}

func (f *FakeSecretsManagerClient) RestoreSecret(ctx context.Context, params *secretsmanager.RestoreSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.RestoreSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	value, ok := f.Pending[name]
	if !ok {
		if _, live := f.Secrets[name]; live {
			return &secretsmanager.RestoreSecretOutput{Name: aws.String(name)}, nil
		}
		return nil, smNotFound()
	}
	delete(f.Pending, name)
	f.Secrets[name] = value
	return &secretsmanager.RestoreSecretOutput{Name: aws.String(name)}, nil
}

func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var prefixes []string
	for _, filter := range params.Filters {
		if filter.Key == smtypes.FilterNameStringTypeName {
			prefixes = append(prefixes, filter.Values...)
		}
	}

	var names []string
	for name := range f.Secrets {
		if len(prefixes) == 0 || hasAnyPrefix(name, prefixes) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range names {
		out.SecretList = append(out.SecretList, smtypes.SecretListEntry{Name: aws.String(name)})
	}
	return out, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// FakeSSMClient is an in-memory parameter store
type FakeSSMClient struct {
	mu         sync.Mutex
	Parameters map[string]FakeParameter
	Err        error
	Now        func() time.Time
}

// FakeParameter is one stored parameter
type FakeParameter struct {
	Value    string
	Type     ssmtypes.ParameterType
	KeyID    string
	Modified time.Time
}

// NewFakeSSMClient creates an empty fake parameter store
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{Parameters: make(map[string]FakeParameter), Now: time.Now}
}

func ssmNotFound() error {
	return &ssmtypes.ParameterNotFound{Message: aws.String("parameter not found")}
}

func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	name := aws.ToString(params.Name)
	p, ok := f.Parameters[name]
	if !ok {
		return nil, ssmNotFound()
	}
	return &ssm.GetParameterOutput{Parameter: f.toParameter(name, p)}, nil
}

func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	name := aws.ToString(params.Name)
	if _, exists := f.Parameters[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("exists")}
	}
	f.Parameters[name] = FakeParameter{
		Value:    aws.ToString(params.Value),
		Type:     params.Type,
		KeyID:    aws.ToString(params.KeyId),
		Modified: f.Now(),
	}
	return &ssm.PutParameterOutput{Version: 1}, nil
}

func (f *FakeSSMClient) DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	name := aws.ToString(params.Name)
	if _, ok := f.Parameters[name]; !ok {
		return nil, ssmNotFound()
	}
	delete(f.Parameters, name)
	return &ssm.DeleteParameterOutput{}, nil
}

func (f *FakeSSMClient) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	prefix := strings.TrimSuffix(aws.ToString(params.Path), "/") + "/"
	recursive := aws.ToBool(params.Recursive)

	var names []string
	for name := range f.Parameters {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if !recursive && strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := &ssm.GetParametersByPathOutput{}
	for _, name := range names {
		out.Parameters = append(out.Parameters, *f.toParameter(name, f.Parameters[name]))
	}
	return out, nil
}

func (f *FakeSSMClient) toParameter(name string, p FakeParameter) *ssmtypes.Parameter {
	return &ssmtypes.Parameter{
		Name:             aws.String(name),
		Value:            aws.String(p.Value),
		Type:             p.Type,
		LastModifiedDate: aws.Time(p.Modified),
	}
}
