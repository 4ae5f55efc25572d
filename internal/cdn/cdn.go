// Package cdn resolves CloudFront distributions and issues invalidations.
package cdn

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"

	"github.com/sinkhq/sink/internal/bucket"
)

// Client abstracts the CloudFront operations used by the deployer.
type Client interface {
	ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Distribution is the subset of a CloudFront distribution used for lookup.
type Distribution struct {
	ID      string
	Aliases map[string]struct{}
}

// ResolveDistribution pages through every distribution visible to the
// account and returns the id of the first one whose aliases contain alias.
// ok is false when the listing is exhausted without a match.
func ResolveDistribution(ctx context.Context, client Client, alias string) (id string, ok bool, err error) {
	var marker *string
	for {
		resp, err := client.ListDistributions(ctx, &cloudfront.ListDistributionsInput{
			Marker: marker,
		})
		if err != nil {
			return "", false, fmt.Errorf("listing distributions: %w", err)
		}
		if resp.DistributionList == nil {
			break
		}
		for _, summary := range resp.DistributionList.Items {
			d := toDistribution(summary)
			if _, found := d.Aliases[alias]; found {
				return d.ID, true, nil
			}
		}
		if !aws.ToBool(resp.DistributionList.IsTruncated) {
			break
		}
		marker = resp.DistributionList.NextMarker
		if marker == nil {
			break
		}
	}
	return "", false, nil
}

func toDistribution(s cftypes.DistributionSummary) Distribution {
	d := Distribution{ID: aws.ToString(s.Id), Aliases: make(map[string]struct{})}
	if s.Aliases != nil {
		for _, a := range s.Aliases.Items {
			d.Aliases[a] = struct{}{}
		}
	}
	return d
}

// Invalidate requests invalidation of paths on the distribution.
func Invalidate(ctx context.Context, client Client, distributionID string, paths []string) bucket.Outcome {
	resp, err := client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return bucket.Outcome{Key: distributionID, Status: bucket.ErrorStatus(err), Err: fmt.Errorf("creating invalidation: %w", err)}
	}
	return bucket.Outcome{Key: distributionID, Status: bucket.Status(resp.ResultMetadata)}
}
