package deploy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinkhq/sink/internal/config"
)

func etag(content string) string {
	sum := md5.Sum([]byte(content))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// fakeBucket is an in-memory S3 that derives ETags from uploaded bytes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	failPut map[string]bool

	lists, puts, deletes int
}

func newFakeBucket(objects map[string]string) *fakeBucket {
	if objects == nil {
		objects = map[string]string{}
	}
	return &fakeBucket{objects: objects}
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), ETag: aws.String(f.objects[k])})
	}
	return out, nil
}

func (f *fakeBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut[aws.ToString(in.Key)] {
		return nil, errors.New("slow down")
	}
	f.objects[aws.ToString(in.Key)] = etag(string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeBucket) mutations() int { return f.puts + f.deletes }

type fakeCDN struct {
	distributions []cftypes.DistributionSummary
	invalidations [][]string
	listCalls     int
}

func (f *fakeCDN) ListDistributions(ctx context.Context, in *cloudfront.ListDistributionsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	f.listCalls++
	return &cloudfront.ListDistributionsOutput{DistributionList: &cftypes.DistributionList{
		Items:       f.distributions,
		IsTruncated: aws.Bool(false),
	}}, nil
}

func (f *fakeCDN) CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.invalidations = append(f.invalidations, in.InvalidationBatch.Paths.Items)
	return &cloudfront.CreateInvalidationOutput{}, nil
}

type fakeBuilder struct {
	calls int
	err   error
}

func (b *fakeBuilder) Build(ctx context.Context, command, dir string) error {
	b.calls++
	return b.err
}

type fakeConfirmer struct {
	answer bool
	calls  int
}

func (c *fakeConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	c.calls++
	return c.answer, nil
}

type harness struct {
	cfg       *config.Config
	bucket    *fakeBucket
	cdn       *fakeCDN
	builder   *fakeBuilder
	confirm   *fakeConfirmer
	connected int
	connErr   error
}

func newHarness(t *testing.T, prefix string, files map[string]string, remote map[string]string) *harness {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, "dist", filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist"), 0755))

	return &harness{
		cfg: &config.Config{
			Dir: dir,
			Deployment: config.Target{
				Region:         "us-east-2",
				Bucket:         "graphics",
				KeyPrefix:      prefix,
				BuildDir:       "dist",
				DistributionID: "E1",
				SkipBuild:      true,
				Concurrency:    4,
			},
		},
		bucket:  newFakeBucket(remote),
		cdn:     &fakeCDN{},
		builder: &fakeBuilder{},
		confirm: &fakeConfirmer{},
	}
}

func (h *harness) deployer() *Deployer {
	connect := func(ctx context.Context, t config.Target) (*Clients, error) {
		h.connected++
		if h.connErr != nil {
			return nil, h.connErr
		}
		return &Clients{S3: h.bucket, CloudFront: h.cdn}, nil
	}
	return New(h.cfg, connect, h.builder, h.confirm, nil)
}

func (h *harness) run(t *testing.T) (*Deployer, *Report, error) {
	t.Helper()
	d := h.deployer()
	report, err := d.Run(context.Background())
	return d, report, err
}

func TestRun_ConvergesAndInvalidates(t *testing.T) {
	h := newHarness(t, "2024/chart",
		map[string]string{
			"index.html":     "<html>v2",
			"js/app.js":      "app",
			"data/keep.json": "{}",
		},
		map[string]string{
			"2024/chart/index.html":     etag("<html>v1"),
			"2024/chart/data/keep.json": etag("{}"),
			"2024/chart/old/gone.css":   etag("gone"),
			"2024/other/untouched.html": etag("x"),
		})

	d, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())

	assert.Equal(t, []string{"2024/chart/index.html", "2024/chart/old/gone.css"}, report.Succeeded(OpDelete))
	assert.Equal(t, []string{"2024/chart/index.html", "2024/chart/js/app.js"}, report.Succeeded(OpPut))
	assert.Equal(t, []string{"2024/chart/data/keep.json"}, report.Skipped)
	assert.Empty(t, report.Failed())

	assert.Equal(t, map[string]string{
		"2024/chart/index.html":     etag("<html>v2"),
		"2024/chart/js/app.js":      etag("app"),
		"2024/chart/data/keep.json": etag("{}"),
		"2024/other/untouched.html": etag("x"),
	}, h.bucket.objects)

	require.Len(t, h.cdn.invalidations, 1)
	assert.Equal(t, []string{"/2024/chart/*"}, h.cdn.invalidations[0])
	assert.Equal(t, "E1", report.DistributionID)
	assert.Equal(t, int64(len("<html>v2")+len("app")), report.UploadedBytes)
}

func TestRun_SymlinkedBuildDir(t *testing.T) {
	h := newHarness(t, "site", nil, map[string]string{
		"site/index.html": etag("home"),
		"site/a/b.html":   etag("b"),
	})
	out := filepath.Join(h.cfg.Dir, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "index.html"), []byte("home"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "a", "b.html"), []byte("b"), 0644))
	dist := h.cfg.BuildPath()
	require.NoError(t, os.Remove(dist))
	if err := os.Symlink(out, dist); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, report, err := h.run(t)
	require.NoError(t, err)
	assert.Zero(t, report.Mutations())
	assert.Zero(t, h.bucket.deletes)
	assert.Len(t, report.Skipped, 2)
	assert.Empty(t, h.cdn.invalidations)
	assert.Len(t, h.bucket.objects, 2)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t, "site",
		map[string]string{"index.html": "a", "css/site.css": "b"},
		map[string]string{"site/index.html": etag("old"), "site/stale.txt": etag("s")})

	_, _, err := h.run(t)
	require.NoError(t, err)
	first := h.bucket.mutations()
	require.NotZero(t, first)

	_, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, first, h.bucket.mutations(), "second run must not mutate")
	assert.Zero(t, report.Mutations())
	assert.Len(t, report.Skipped, 2)
	assert.Len(t, h.cdn.invalidations, 1)
}

func TestRun_EmptyRemoteUploadsEverything(t *testing.T) {
	h := newHarness(t, "new", map[string]string{"x.txt": "1", "y.txt": "2"}, nil)

	_, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"new/x.txt", "new/y.txt"}, report.Succeeded(OpPut))
	assert.Empty(t, report.Succeeded(OpDelete))
	assert.Zero(t, h.bucket.deletes)
	assert.Empty(t, h.cdn.invalidations)
}

func TestRun_RootDeclined(t *testing.T) {
	h := newHarness(t, "", map[string]string{"index.html": "a"}, map[string]string{"old.html": etag("o")})
	h.confirm.answer = false

	d, report, err := h.run(t)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Nil(t, report)
	assert.Equal(t, Failed, d.State())
	assert.Equal(t, 1, h.confirm.calls)
	assert.Zero(t, h.bucket.mutations())
	assert.Zero(t, h.bucket.lists)
}

func TestRun_RootConfirmed(t *testing.T) {
	h := newHarness(t, "", map[string]string{"index.html": "a"}, map[string]string{"old.html": etag("o")})
	h.confirm.answer = true

	_, _, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"index.html": etag("a")}, h.bucket.objects)
	assert.Equal(t, [][]string{{"/*"}}, h.cdn.invalidations)
}

func TestRun_RootAutoConfirm(t *testing.T) {
	h := newHarness(t, "", map[string]string{"index.html": "a"}, nil)
	h.cfg.Deployment.AutoConfirm = true

	_, _, err := h.run(t)
	require.NoError(t, err)
	assert.Zero(t, h.confirm.calls)
	assert.Equal(t, 1, h.bucket.puts)
}

func TestRun_InvalidKeyPrefix(t *testing.T) {
	for _, prefix := range []string{"/assets", "assets/"} {
		t.Run(prefix, func(t *testing.T) {
			h := newHarness(t, prefix, map[string]string{"a.txt": "a"}, nil)

			d, _, err := h.run(t)
			assert.ErrorIs(t, err, config.ErrInvalid)
			assert.Equal(t, Failed, d.State())
			assert.Zero(t, h.connected)
			assert.Zero(t, h.bucket.lists)
		})
	}
}

func TestRun_MissingRegion(t *testing.T) {
	h := newHarness(t, "site", nil, nil)
	h.cfg.Deployment.Region = ""

	_, _, err := h.run(t)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Zero(t, h.connected)
}

func TestRun_CredentialFailure(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "a"}, nil)
	h.connErr = errors.New("no credentials")

	d, _, err := h.run(t)
	assert.Error(t, err)
	assert.Equal(t, Failed, d.State())
	assert.Zero(t, h.builder.calls)
	assert.Zero(t, h.bucket.lists)
}

func TestRun_BuildFailure(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "a"}, nil)
	h.cfg.Deployment.SkipBuild = false
	h.builder.err = errors.New("exit status 1")

	_, _, err := h.run(t)
	assert.ErrorIs(t, err, ErrBuild)
	assert.Equal(t, 1, h.builder.calls)
	assert.Zero(t, h.bucket.lists)
}

func TestRun_SkipBuild(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "a"}, nil)

	_, _, err := h.run(t)
	require.NoError(t, err)
	assert.Zero(t, h.builder.calls)
}

func TestRun_MissingBuildDir(t *testing.T) {
	h := newHarness(t, "site", nil, nil)
	h.cfg.Deployment.BuildDir = "does-not-exist"

	d, _, err := h.run(t)
	assert.Error(t, err)
	assert.Equal(t, Failed, d.State())
	assert.Zero(t, h.bucket.mutations())
}

func TestRun_PutFailureIsRecorded(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "a", "b.txt": "b"}, nil)
	h.bucket.failPut = map[string]bool{"site/a.txt": true}

	d, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())
	assert.Equal(t, []string{"site/b.txt"}, report.Succeeded(OpPut))

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, OpPut, failed[0].Op)
	assert.Equal(t, "site/a.txt", failed[0].Key)
}

func TestRun_StrictFailsOnMutationError(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "a", "b.txt": "b"}, nil)
	h.bucket.failPut = map[string]bool{"site/a.txt": true}
	h.cfg.Deployment.Strict = true

	_, report, err := h.run(t)
	assert.ErrorIs(t, err, ErrMutationsFailed)
	require.NotNil(t, report)
	assert.Equal(t, []string{"site/b.txt"}, report.Succeeded(OpPut))
}

func TestRun_ResolvesDistribution(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "new"}, map[string]string{"site/a.txt": etag("old")})
	h.cfg.Deployment.DistributionID = ""
	h.cfg.Deployment.Domain = "graphics.example.com"
	h.cdn.distributions = []cftypes.DistributionSummary{
		{Id: aws.String("E9"), Aliases: &cftypes.Aliases{Items: []string{"other.example.com"}}},
		{Id: aws.String("E7"), Aliases: &cftypes.Aliases{Items: []string{"graphics.example.com"}}},
	}

	_, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "E7", report.DistributionID)
	assert.Len(t, h.cdn.invalidations, 1)
}

func TestRun_DistributionNotFound(t *testing.T) {
	h := newHarness(t, "site", map[string]string{"a.txt": "new"}, map[string]string{"site/a.txt": etag("old")})
	h.cfg.Deployment.DistributionID = ""

	d, report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())
	assert.Equal(t, 1, h.cdn.listCalls)
	assert.Empty(t, h.cdn.invalidations)
	assert.Empty(t, report.DistributionID)
	assert.Equal(t, []string{"/site/*"}, report.InvalidationPaths)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "confirming-root", ConfirmingRoot.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
