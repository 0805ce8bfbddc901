package fileaccess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/systmms/quickmanage/internal/awsutil"
)

// S3API is the subset of the S3 client used by the object-store FS
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config locates a bucket
type S3Config struct {
	awsutil.Options `mapstructure:",squash"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// S3 is the FS backed by an S3-compatible bucket. Directories do not exist
// on the remote side, so MakeDirs and SetPermissions are no-ops.
type S3 struct {
	client S3API
	bucket string
}

// S3Option configures the S3 FS
type S3Option func(*S3)

// WithS3Client sets a custom S3 client (for testing)
func WithS3Client(client S3API) S3Option {
	return func(s *S3) {
		s.client = client
	}
}

// NewS3 connects to the configured bucket
func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	fsys := &S3{bucket: cfg.Bucket}
	for _, opt := range opts {
		opt(fsys)
	}
	if fsys.client != nil {
		return fsys, nil
	}

	awsCfg, err := awsutil.LoadConfig(ctx, cfg.Options)
	if err != nil {
		return nil, err
	}
	fsys.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = awsutil.EndpointPtr(cfg.Endpoint)
		o.UsePathStyle = cfg.PathStyle
	})
	return fsys, nil
}

func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func isMissingObject(err error) bool {
	return awsutil.HasCode(err, "NoSuchKey", "NotFound")
}

func (s *S3) target(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3) Exists(ctx context.Context, p string) (bool, error) {
	key := objectKey(p)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if !isMissingObject(err) {
		return false, awsutil.Connectivity("head", s.target(key), err)
	}

	// a prefix with objects under it counts as an existing directory
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, awsutil.Connectivity("list", s.target(key), err)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key := objectKey(p)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
		}
		return nil, awsutil.Connectivity("get", s.target(key), err)
	}
	return out.Body, nil
}

func (s *S3) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	key := objectKey(p)
	return &bufferedWriter{commit: func(data []byte) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return awsutil.Connectivity("put", s.target(key), err)
		}
		return nil
	}}, nil
}

func (s *S3) Remove(ctx context.Context, p string) error {
	key := objectKey(p)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return awsutil.Connectivity("delete", s.target(key), err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, p string, match func(FileInfo) bool) ([]FileInfo, error) {
	prefix := objectKey(p)
	if prefix != "" {
		prefix += "/"
	}

	var found []FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awsutil.Connectivity("list", s.target(prefix), err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			fi := FileInfo{
				Name:     path.Base(key),
				Parent:   path.Dir(key),
				Modified: aws.ToTime(obj.LastModified),
				Size:     aws.ToInt64(obj.Size),
			}
			if match == nil || match(fi) {
				found = append(found, fi)
			}
		}
	}
	return found, nil
}

func (s *S3) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	return nil
}

func (s *S3) MakeDirs(ctx context.Context, p string, mode fs.FileMode) error {
	return nil
}
