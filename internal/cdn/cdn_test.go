package cdn

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudFront struct {
	pages         [][]cftypes.DistributionSummary
	listCalls     int
	listErr       error
	invalidations []*cloudfront.CreateInvalidationInput
	invalidateErr error
}

func (f *fakeCloudFront) ListDistributions(ctx context.Context, in *cloudfront.ListDistributionsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := 0
	if in.Marker != nil {
		idx = int((*in.Marker)[0] - '0')
	}
	list := &cftypes.DistributionList{IsTruncated: aws.Bool(false)}
	if idx < len(f.pages) {
		list.Items = f.pages[idx]
	}
	if idx+1 < len(f.pages) {
		list.IsTruncated = aws.Bool(true)
		list.NextMarker = aws.String(string(rune('0' + idx + 1)))
	}
	return &cloudfront.ListDistributionsOutput{DistributionList: list}, nil
}

func (f *fakeCloudFront) CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.invalidations = append(f.invalidations, in)
	if f.invalidateErr != nil {
		return nil, f.invalidateErr
	}
	return &cloudfront.CreateInvalidationOutput{}, nil
}

func dist(id string, aliases ...string) cftypes.DistributionSummary {
	return cftypes.DistributionSummary{
		Id:      aws.String(id),
		Aliases: &cftypes.Aliases{Quantity: aws.Int32(int32(len(aliases))), Items: aliases},
	}
}

func TestResolveDistribution_AcrossPages(t *testing.T) {
	client := &fakeCloudFront{pages: [][]cftypes.DistributionSummary{
		{dist("E1", "other.example.com"), {Id: aws.String("E0")}},
		{dist("E2", "www.example.com", "example.com")},
		{dist("E3", "example.com")},
	}}

	id, ok, err := ResolveDistribution(context.Background(), client, "example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "E2", id)
	assert.Equal(t, 2, client.listCalls)
}

func TestResolveDistribution_NotFound(t *testing.T) {
	client := &fakeCloudFront{pages: [][]cftypes.DistributionSummary{
		{dist("E1", "a.example.com")},
		{dist("E2", "b.example.com")},
	}}

	id, ok, err := ResolveDistribution(context.Background(), client, "c.example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, 2, client.listCalls)
}

func TestResolveDistribution_Error(t *testing.T) {
	client := &fakeCloudFront{listErr: errors.New("throttled")}

	_, _, err := ResolveDistribution(context.Background(), client, "example.com")
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	client := &fakeCloudFront{}

	o := Invalidate(context.Background(), client, "E2", []string{"/a/*", "/b/*"})
	assert.True(t, o.OK())
	require.Len(t, client.invalidations, 1)

	in := client.invalidations[0]
	assert.Equal(t, "E2", aws.ToString(in.DistributionId))
	assert.Equal(t, int32(2), aws.ToInt32(in.InvalidationBatch.Paths.Quantity))
	assert.Equal(t, []string{"/a/*", "/b/*"}, in.InvalidationBatch.Paths.Items)
	assert.NotEmpty(t, aws.ToString(in.InvalidationBatch.CallerReference))
}

func TestInvalidate_Error(t *testing.T) {
	client := &fakeCloudFront{invalidateErr: errors.New("too many")}

	o := Invalidate(context.Background(), client, "E2", []string{"/*"})
	assert.False(t, o.OK())
}
