// Package awsenv resolves AWS configuration and credentials for a target.
package awsenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/joho/godotenv"

	"github.com/sinkhq/sink/internal/config"
)

// ErrCredentials marks a failure to resolve credentials.
var ErrCredentials = errors.New("unable to resolve AWS credentials")

// Environment variable names read when no profile is configured.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
)

// FromEnv builds static (or session) credentials from environment values.
func FromEnv(getenv func(string) string) (credentials.StaticCredentialsProvider, error) {
	id, secret := getenv(EnvAccessKeyID), getenv(EnvSecretAccessKey)
	if id == "" || secret == "" {
		return credentials.StaticCredentialsProvider{}, fmt.Errorf("%w: no profile configured and %s/%s not set",
			ErrCredentials, EnvAccessKeyID, EnvSecretAccessKey)
	}
	return credentials.NewStaticCredentialsProvider(id, secret, getenv(EnvSessionToken)), nil
}

// Load returns an aws.Config for t. With a profile the shared config files
// are used; otherwise credentials come from the environment, which envFile
// (a .env file, optional) may populate without overriding existing values.
// Credentials are retrieved once so failures surface before any API call.
func Load(ctx context.Context, t config.Target, envFile string) (aws.Config, error) {
	timeout := time.Duration(t.TimeoutSeconds) * time.Second
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(t.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = t.MaxAttempts
			})
		}),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)),
	}

	if t.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(t.Profile))
	} else {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return aws.Config{}, fmt.Errorf("reading %s: %w", envFile, err)
			}
		}
		creds, err := FromEnv(os.Getenv)
		if err != nil {
			return aws.Config{}, err
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: loading AWS config: %w", ErrCredentials, err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	return cfg, nil
}
