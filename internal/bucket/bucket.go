// Package bucket lists and mutates objects under an S3 key prefix.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Client abstracts the S3 operations used by the deployer.
type Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// maxKeysPerDelete is the S3 limit for a single DeleteObjects request.
const maxKeysPerDelete = 1000

// DefaultContentType is used when the extension has no registered type.
const DefaultContentType = "application/octet-stream"

// Outcome records the result of a single object mutation.
type Outcome struct {
	Key    string
	Status int
	Err    error
}

// OK reports whether the mutation succeeded. Status is 0 when the
// transport attached no raw response.
func (o Outcome) OK() bool {
	if o.Err != nil {
		return false
	}
	return o.Status == 0 || (o.Status >= 200 && o.Status < 300)
}

// Key joins a key prefix and a relative key.
func Key(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// List returns key -> ETag for every object under prefix, following
// continuation tokens until the listing is exhausted. Directory markers
// (keys ending in "/") are dropped.
func List(ctx context.Context, client Client, bucket, prefix string) (map[string]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix + "/")
	}

	existing := make(map[string]string)
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			existing[*obj.Key] = aws.ToString(obj.ETag)
		}
	}

	return existing, nil
}

// ContentType guesses a MIME type from the key's extension.
func ContentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return DefaultContentType
}

// Put uploads the file at filePath under key.
func Put(ctx context.Context, client Client, bucket, key, filePath string) Outcome {
	f, err := os.Open(filePath)
	if err != nil {
		return Outcome{Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Outcome{Key: key, Err: err}
	}

	resp, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType(key)),
	})
	if err != nil {
		return Outcome{Key: key, Status: ErrorStatus(err), Err: fmt.Errorf("putting %s: %w", key, err)}
	}
	return Outcome{Key: key, Status: Status(resp.ResultMetadata)}
}

// Delete removes keys using batched DeleteObjects requests. One outcome is
// returned per key. A failed request marks every key of its batch failed and
// later batches are still attempted.
func Delete(ctx context.Context, client Client, bucket string, keys []string) []Outcome {
	outcomes := make([]Outcome, 0, len(keys))

	for start := 0; start < len(keys); start += maxKeysPerDelete {
		end := min(start+maxKeysPerDelete, len(keys))
		batch := keys[start:end]

		objects := make([]s3types.ObjectIdentifier, 0, len(batch))
		for _, k := range batch {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		resp, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			status := ErrorStatus(err)
			for _, k := range batch {
				outcomes = append(outcomes, Outcome{Key: k, Status: status, Err: fmt.Errorf("deleting batch: %w", err)})
			}
			continue
		}

		failed := make(map[string]error, len(resp.Errors))
		for _, e := range resp.Errors {
			failed[aws.ToString(e.Key)] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
		}
		status := Status(resp.ResultMetadata)
		for _, k := range batch {
			outcomes = append(outcomes, Outcome{Key: k, Status: status, Err: failed[k]})
		}
	}

	return outcomes
}

// Status extracts the HTTP status code from an operation's result metadata.
// It returns 0 when no raw response is attached.
func Status(md middleware.Metadata) int {
	if resp, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && resp != nil {
		return resp.StatusCode
	}
	return 0
}

// ErrorStatus extracts the HTTP status code from an SDK error, or 0.
func ErrorStatus(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
