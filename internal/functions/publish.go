package functions

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
)

// Client abstracts the CloudFront Functions API.
type Client interface {
	DescribeFunction(ctx context.Context, params *cloudfront.DescribeFunctionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DescribeFunctionOutput, error)
	GetFunction(ctx context.Context, params *cloudfront.GetFunctionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, params *cloudfront.CreateFunctionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateFunctionOutput, error)
	UpdateFunction(ctx context.Context, params *cloudfront.UpdateFunctionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateFunctionOutput, error)
	PublishFunction(ctx context.Context, params *cloudfront.PublishFunctionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.PublishFunctionOutput, error)
}

// Result describes what Publish did.
type Result int

const (
	Unchanged Result = iota
	Created
	Updated
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Publish creates or updates the named function with the redirect code for
// the store and publishes it to the LIVE stage. A function whose development
// code already matches and that has been published is left alone.
func Publish(ctx context.Context, client Client, name, kvsARN string) (Result, error) {
	code := Code(kvsARN)
	cfg := &cftypes.FunctionConfig{
		Comment: aws.String("Managed by sink: directory redirects"),
		Runtime: cftypes.FunctionRuntimeCloudfrontJs20,
		KeyValueStoreAssociations: &cftypes.KeyValueStoreAssociations{
			Quantity: aws.Int32(1),
			Items:    []cftypes.KeyValueStoreAssociation{{KeyValueStoreARN: aws.String(kvsARN)}},
		},
	}

	desc, err := client.DescribeFunction(ctx, &cloudfront.DescribeFunctionInput{
		Name:  aws.String(name),
		Stage: cftypes.FunctionStageDevelopment,
	})
	var notFound *cftypes.NoSuchFunctionExists
	if err != nil && !errors.As(err, &notFound) {
		return Unchanged, fmt.Errorf("describing function %s: %w", name, err)
	}

	var (
		etag   string
		result Result
	)
	if err == nil && desc.ETag != nil {
		current, err := client.GetFunction(ctx, &cloudfront.GetFunctionInput{
			Name:  aws.String(name),
			Stage: cftypes.FunctionStageDevelopment,
		})
		if err != nil {
			return Unchanged, fmt.Errorf("getting function %s: %w", name, err)
		}
		if bytes.Equal(current.FunctionCode, code) && isPublished(desc) {
			return Unchanged, nil
		}

		updated, err := client.UpdateFunction(ctx, &cloudfront.UpdateFunctionInput{
			Name:           aws.String(name),
			IfMatch:        desc.ETag,
			FunctionCode:   code,
			FunctionConfig: cfg,
		})
		if err != nil {
			return Unchanged, fmt.Errorf("updating function %s: %w", name, err)
		}
		etag, result = aws.ToString(updated.ETag), Updated
	} else {
		created, err := client.CreateFunction(ctx, &cloudfront.CreateFunctionInput{
			Name:           aws.String(name),
			FunctionCode:   code,
			FunctionConfig: cfg,
		})
		if err != nil {
			return Unchanged, fmt.Errorf("creating function %s: %w", name, err)
		}
		etag, result = aws.ToString(created.ETag), Created
	}

	if _, err := client.PublishFunction(ctx, &cloudfront.PublishFunctionInput{
		Name:    aws.String(name),
		IfMatch: aws.String(etag),
	}); err != nil {
		return Unchanged, fmt.Errorf("publishing function %s: %w", name, err)
	}
	return result, nil
}

// isPublished reports whether the development code has been published.
// Updating a function sets its status back to UNPUBLISHED.
func isPublished(desc *cloudfront.DescribeFunctionOutput) bool {
	if desc.FunctionSummary == nil || desc.FunctionSummary.Status == nil {
		return false
	}
	return *desc.FunctionSummary.Status != "UNPUBLISHED"
}
