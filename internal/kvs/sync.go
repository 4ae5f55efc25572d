package kvs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	cfkvstypes "github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore/types"
)

// Client abstracts the CloudFront KeyValueStore data-plane API.
type Client interface {
	DescribeKeyValueStore(ctx context.Context, params *cloudfrontkeyvaluestore.DescribeKeyValueStoreInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.DescribeKeyValueStoreOutput, error)
	ListKeys(ctx context.Context, params *cloudfrontkeyvaluestore.ListKeysInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.ListKeysOutput, error)
	UpdateKeys(ctx context.Context, params *cloudfrontkeyvaluestore.UpdateKeysInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.UpdateKeysOutput, error)
}

// ARNResolver abstracts the CloudFront control-plane listing of stores.
type ARNResolver interface {
	ListKeyValueStores(ctx context.Context, params *cloudfront.ListKeyValueStoresInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListKeyValueStoresOutput, error)
}

// ResolveARN finds a store's ARN by name across all listing pages.
func ResolveARN(ctx context.Context, client ARNResolver, name string) (string, error) {
	var marker *string
	for {
		resp, err := client.ListKeyValueStores(ctx, &cloudfront.ListKeyValueStoresInput{
			Marker: marker,
		})
		if err != nil {
			return "", fmt.Errorf("listing key value stores: %w", err)
		}
		if resp.KeyValueStoreList == nil {
			break
		}
		for _, item := range resp.KeyValueStoreList.Items {
			if aws.ToString(item.Name) == name && item.ARN != nil {
				return *item.ARN, nil
			}
		}
		marker = resp.KeyValueStoreList.NextMarker
		if marker == nil {
			break
		}
	}
	return "", fmt.Errorf("key value store not found: %s", name)
}

// FetchExisting returns every key and value in the store with the ETag
// required for the first UpdateKeys call.
func FetchExisting(ctx context.Context, client Client, arn string) (map[string]string, string, error) {
	desc, err := client.DescribeKeyValueStore(ctx, &cloudfrontkeyvaluestore.DescribeKeyValueStoreInput{
		KvsARN: aws.String(arn),
	})
	if err != nil {
		return nil, "", fmt.Errorf("describing key value store: %w", err)
	}

	existing := make(map[string]string)
	var nextToken *string
	for {
		resp, err := client.ListKeys(ctx, &cloudfrontkeyvaluestore.ListKeysInput{
			KvsARN:    aws.String(arn),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, "", fmt.Errorf("listing keys: %w", err)
		}
		for _, item := range resp.Items {
			existing[aws.ToString(item.Key)] = aws.ToString(item.Value)
		}
		nextToken = resp.NextToken
		if nextToken == nil {
			break
		}
	}

	return existing, aws.ToString(desc.ETag), nil
}

// Scope returns the request path a deploy under keyPrefix owns in a
// store. A root deploy owns every key.
func Scope(keyPrefix string) string {
	if keyPrefix == "" {
		return ""
	}
	return "/" + keyPrefix
}

func inScope(scope, key string) bool {
	return scope == "" || key == scope || strings.HasPrefix(key, scope+"/")
}

// ComputePlan compares desired entries against the store's existing keys.
// Keys are put when missing or changed. Existing keys that are no longer
// desired are deleted only inside scope, so deploys of different prefixes
// can share one store. Both lists are sorted.
func ComputePlan(desired []Entry, existing map[string]string, scope string) *Plan {
	plan := &Plan{}

	wanted := make(map[string]struct{}, len(desired))
	for _, e := range desired {
		wanted[e.Key] = struct{}{}
		if v, ok := existing[e.Key]; !ok || v != e.Value {
			plan.Puts = append(plan.Puts, e)
		}
	}
	for key := range existing {
		if _, ok := wanted[key]; !ok && inScope(scope, key) {
			plan.Deletes = append(plan.Deletes, key)
		}
	}

	sort.Slice(plan.Puts, func(i, j int) bool { return plan.Puts[i].Key < plan.Puts[j].Key })
	sort.Strings(plan.Deletes)
	return plan
}

// maxKeysPerBatch is the UpdateKeys limit on puts plus deletes.
const maxKeysPerBatch = 50

// Apply executes plan with UpdateKeys in batches, threading the ETag from
// each response into the next request. It stops at the first failed batch
// since the ETag chain is broken from then on.
func Apply(ctx context.Context, client Client, arn, etag string, plan *Plan) error {
	type op struct {
		put *cfkvstypes.PutKeyRequestListItem
		del *cfkvstypes.DeleteKeyRequestListItem
	}

	ops := make([]op, 0, len(plan.Puts)+len(plan.Deletes))
	for _, e := range plan.Puts {
		ops = append(ops, op{put: &cfkvstypes.PutKeyRequestListItem{Key: aws.String(e.Key), Value: aws.String(e.Value)}})
	}
	for _, k := range plan.Deletes {
		ops = append(ops, op{del: &cfkvstypes.DeleteKeyRequestListItem{Key: aws.String(k)}})
	}

	current := etag
	for start := 0; start < len(ops); start += maxKeysPerBatch {
		end := min(start+maxKeysPerBatch, len(ops))

		input := &cloudfrontkeyvaluestore.UpdateKeysInput{
			KvsARN:  aws.String(arn),
			IfMatch: aws.String(current),
		}
		for _, o := range ops[start:end] {
			if o.put != nil {
				input.Puts = append(input.Puts, *o.put)
			} else {
				input.Deletes = append(input.Deletes, *o.del)
			}
		}

		resp, err := client.UpdateKeys(ctx, input)
		if err != nil {
			return fmt.Errorf("updating keys %d-%d of %d: %w", start, end, len(ops), err)
		}
		if resp.ETag != nil {
			current = *resp.ETag
		}
	}

	return nil
}
