// Package awsutil holds the AWS client plumbing shared by the object-storage
// file shim and the AWS-backed key stores.
package awsutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// DefaultRegion is used when neither the record nor the environment sets one
const DefaultRegion = "us-east-1"

// Options are the connection settings every AWS-backed record accepts
type Options struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LoadConfig builds an aws.Config from the default credential chain, with
// static credentials taking over when both halves are configured
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}

	configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// EndpointPtr returns nil for an empty endpoint so the SDK keeps its resolver
func EndpointPtr(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

// HasCode reports whether err carries one of the given smithy API error codes
func HasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// Connectivity wraps an SDK failure as a ConnectivityError
func Connectivity(op, target string, err error) error {
	return qerrors.ConnectivityError{Op: op, Target: target, Err: err}
}
