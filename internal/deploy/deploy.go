// Package deploy publishes a build directory to S3 and invalidates the
// CloudFront paths that changed.
//
// A run moves through Validating, ConfirmingRoot (only for an empty key
// prefix), Building (unless skipped), Listing, Diffing, Mutating and
// Invalidating to Done. Configuration, credential, confirmation, build and
// listing errors end the run in Failed before any object is touched.
// Individual put, delete and invalidation failures are recorded in the
// Report and do not stop the remaining work.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sinkhq/sink/internal/bucket"
	"github.com/sinkhq/sink/internal/cdn"
	"github.com/sinkhq/sink/internal/config"
	"github.com/sinkhq/sink/internal/diff"
	"github.com/sinkhq/sink/internal/functions"
	"github.com/sinkhq/sink/internal/invalidation"
	"github.com/sinkhq/sink/internal/kvs"
	"github.com/sinkhq/sink/internal/tree"
)

var (
	// ErrDeclined is returned when a root deploy is not confirmed.
	ErrDeclined = errors.New("deploy to bucket root declined")
	// ErrBuild is returned when the build command fails.
	ErrBuild = errors.New("build failed")
	// ErrMutationsFailed is returned in strict mode when any mutation failed.
	ErrMutationsFailed = errors.New("one or more mutations failed")
)

// Clients are the AWS APIs a run talks to. KVS, KVSResolver and Functions
// may be nil when redirects are not configured.
type Clients struct {
	S3          bucket.Client
	CloudFront  cdn.Client
	KVS         kvs.Client
	KVSResolver kvs.ARNResolver
	Functions   functions.Client
}

// Connector resolves credentials and builds clients for a target.
type Connector func(ctx context.Context, t config.Target) (*Clients, error)

// Deployer runs one deploy of a configured target.
type Deployer struct {
	target   config.Target
	buildDir string
	workDir  string

	connect Connector
	builder Builder
	confirm Confirmer
	log     *zap.Logger

	state State
}

// New returns a Deployer for cfg.
func New(cfg *config.Config, connect Connector, builder Builder, confirm Confirmer, log *zap.Logger) *Deployer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deployer{
		target:   cfg.Deployment,
		buildDir: cfg.BuildPath(),
		workDir:  cfg.Dir,
		connect:  connect,
		builder:  builder,
		confirm:  confirm,
		log:      log,
	}
}

// State returns the state the run is in, or ended in.
func (d *Deployer) State() State { return d.state }

func (d *Deployer) enter(s State) {
	d.state = s
	d.log.Debug("state", zap.Stringer("state", s))
}

func (d *Deployer) fail(err error) (*Report, error) {
	d.log.Debug("state", zap.Stringer("state", Failed), zap.String("from", d.state.String()))
	d.state = Failed
	return nil, err
}

// Run executes the deploy. The returned report is nil only when the run
// failed before mutating anything.
func (d *Deployer) Run(ctx context.Context) (*Report, error) {
	d.enter(Validating)
	if err := d.target.Validate(); err != nil {
		return d.fail(err)
	}
	clients, err := d.connect(ctx, d.target)
	if err != nil {
		return d.fail(err)
	}

	if d.target.KeyPrefix == "" {
		d.enter(ConfirmingRoot)
		if err := d.confirmRoot(ctx); err != nil {
			return d.fail(err)
		}
	}

	if !d.target.SkipBuild {
		d.enter(Building)
		d.log.Info("building", zap.String("command", d.target.BuildCommand))
		if err := d.builder.Build(ctx, d.target.BuildCommand, d.workDir); err != nil {
			return d.fail(fmt.Errorf("%w: %w", ErrBuild, err))
		}
	}

	d.enter(Listing)
	local, files, remote, err := d.list(ctx, clients.S3)
	if err != nil {
		return d.fail(err)
	}

	d.enter(Diffing)
	plan := diff.Compute(local, remote)
	report := &Report{Skipped: diff.Sorted(plan.ToSkip)}
	for _, key := range report.Skipped {
		d.log.Debug("skipping, local and remote ETags are identical", zap.String("key", key))
	}
	d.log.Info("computed changes",
		zap.Int("delete", len(plan.ToDelete)),
		zap.Int("add", len(plan.ToAdd)),
		zap.Int("overwrite", len(plan.Overwrites())),
		zap.Int("skip", len(plan.ToSkip)))

	d.enter(Mutating)
	d.deleteObjects(ctx, clients.S3, diff.Sorted(plan.ToDelete), report)
	d.putObjects(ctx, clients.S3, diff.Sorted(plan.ToAdd), files, report)
	if d.target.Redirects.KVSName != "" {
		d.syncRedirects(ctx, clients, local, report)
	}

	d.enter(Invalidating)
	d.invalidate(ctx, clients.CloudFront, diff.Sorted(plan.ToDelete), report)

	d.enter(Done)
	if failed := report.Failed(); len(failed) > 0 {
		d.log.Warn("some mutations failed", zap.Int("failed", len(failed)))
		if d.target.Strict {
			return report, fmt.Errorf("%w: %d failed", ErrMutationsFailed, len(failed))
		}
	}
	return report, nil
}

func (d *Deployer) confirmRoot(ctx context.Context) error {
	if d.target.AutoConfirm {
		d.log.Warn("deploying to bucket root, confirmation bypassed", zap.String("bucket", d.target.Bucket))
		return nil
	}
	ok, err := d.confirm.Confirm(ctx, fmt.Sprintf("No key prefix set: deploy to the root of bucket %s, deleting objects not in the build?", d.target.Bucket))
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

// list scans the build directory and lists the bucket concurrently. Local
// tags are returned keyed by full object key.
func (d *Deployer) list(ctx context.Context, client bucket.Client) (map[string]string, map[string]tree.Entry, map[string]string, error) {
	var (
		tags   map[string]string
		rel    map[string]tree.Entry
		remote map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tags, rel, err = tree.Scan(gctx, d.buildDir)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = bucket.List(gctx, client, d.target.Bucket, d.target.KeyPrefix)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	local := make(map[string]string, len(tags))
	files := make(map[string]tree.Entry, len(rel))
	for k, tag := range tags {
		key := bucket.Key(d.target.KeyPrefix, k)
		local[key] = tag
		files[key] = rel[k]
	}

	if len(remote) == 0 && d.target.KeyPrefix != "" {
		d.log.Info("creating new directory", zap.String("bucket", d.target.Bucket), zap.String("key", d.target.KeyPrefix))
	}
	d.log.Info("listed state", zap.Int("local", len(local)), zap.Int("remote", len(remote)))
	return local, files, remote, nil
}

func (d *Deployer) deleteObjects(ctx context.Context, client bucket.Client, keys []string, report *Report) {
	if len(keys) == 0 {
		return
	}
	outcomes := bucket.Delete(ctx, client, d.target.Bucket, keys)
	for _, o := range outcomes {
		d.logOutcome("deleted", o)
	}
	report.add(OpDelete, outcomes...)
}

func (d *Deployer) putObjects(ctx context.Context, client bucket.Client, keys []string, files map[string]tree.Entry, report *Report) {
	if len(keys) == 0 {
		return
	}
	outcomes := make([]bucket.Outcome, len(keys))

	limit := d.target.Concurrency
	if limit <= 0 {
		limit = config.DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, key := range keys {
		g.Go(func() error {
			outcomes[i] = bucket.Put(ctx, client, d.target.Bucket, key, files[key].Path)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		d.logOutcome("uploaded", o)
		if o.OK() {
			report.UploadedBytes += files[keys[i]].Size
		}
	}
	report.add(OpPut, outcomes...)
}

func (d *Deployer) logOutcome(verb string, o bucket.Outcome) {
	if o.OK() {
		d.log.Info(verb, zap.String("key", o.Key), zap.Int("status", o.Status))
		return
	}
	d.log.Warn(verb+" failed", zap.String("key", o.Key), zap.Int("status", o.Status), zap.Error(o.Err))
}

func (d *Deployer) invalidate(ctx context.Context, client cdn.Client, deleted []string, report *Report) {
	paths := invalidation.Reduce(deleted, d.target.KeyPrefix)
	if len(paths) == 0 {
		return
	}
	report.InvalidationPaths = paths

	id := d.target.DistributionID
	if id == "" {
		alias := d.target.AliasIdentifier()
		found, ok, err := cdn.ResolveDistribution(ctx, client, alias)
		if err != nil {
			o := bucket.Outcome{Key: alias, Status: bucket.ErrorStatus(err), Err: err}
			d.logOutcome("resolving distribution", o)
			report.add(OpInvalidate, o)
			return
		}
		if !ok {
			d.log.Warn("no CloudFront distribution matches, skipping invalidation", zap.String("alias", alias))
			return
		}
		d.log.Info("resolved distribution", zap.String("alias", alias), zap.String("id", found))
		id = found
	}
	report.DistributionID = id

	o := cdn.Invalidate(ctx, client, id, paths)
	if o.OK() {
		d.log.Info("invalidated", zap.String("distribution", id), zap.Strings("paths", paths), zap.Int("status", o.Status))
	} else {
		d.logOutcome("invalidation", o)
	}
	report.add(OpInvalidate, o)
}

// syncRedirects publishes directory redirects for the local tree, merged
// with the build's redirects file, to the configured KeyValueStore.
func (d *Deployer) syncRedirects(ctx context.Context, clients *Clients, local map[string]string, report *Report) {
	name := d.target.Redirects.KVSName
	record := func(err error) {
		o := bucket.Outcome{Key: name, Status: bucket.ErrorStatus(err), Err: err}
		d.logOutcome("published redirects", o)
		report.add(OpRedirects, o)
	}

	keys := make([]string, 0, len(local))
	for k := range local {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fileEntries, skipped, err := kvs.ParseFile(d.buildDir)
	if err != nil {
		record(err)
		return
	}
	for _, line := range skipped {
		d.log.Warn("invalid redirect line", zap.String("file", kvs.RedirectsFile), zap.Int("line", line))
	}

	entries, err := kvs.ResolveChains(kvs.Merge(kvs.DirectoryRedirects(keys), fileEntries))
	if err != nil {
		record(err)
		return
	}
	if err := kvs.Validate(entries); err != nil {
		record(err)
		return
	}

	arn, err := kvs.ResolveARN(ctx, clients.KVSResolver, name)
	if err != nil {
		record(err)
		return
	}
	existing, etag, err := kvs.FetchExisting(ctx, clients.KVS, arn)
	if err != nil {
		record(err)
		return
	}
	plan := kvs.ComputePlan(entries, existing, kvs.Scope(d.target.KeyPrefix))
	d.log.Info("redirects", zap.Int("puts", len(plan.Puts)), zap.Int("deletes", len(plan.Deletes)),
		zap.Int("bytes", kvs.TotalBytes(entries)), zap.Int("limit", kvs.MaxTotalBytes))
	if !plan.Empty() {
		if err := kvs.Apply(ctx, clients.KVS, arn, etag, plan); err != nil {
			record(err)
			return
		}
		record(nil)
	}
	report.Redirects = len(entries)

	if fn := d.target.Redirects.Function; fn != "" {
		d.publishFunction(ctx, clients.Functions, fn, arn, report)
	}
}

func (d *Deployer) publishFunction(ctx context.Context, client functions.Client, name, arn string, report *Report) {
	res, err := functions.Publish(ctx, client, name, arn)
	o := bucket.Outcome{Key: name, Status: bucket.ErrorStatus(err), Err: err}
	if err != nil {
		d.logOutcome("published function", o)
		report.add(OpFunction, o)
		return
	}
	d.log.Info("redirect function", zap.String("name", name), zap.Stringer("result", res))
	if res != functions.Unchanged {
		report.add(OpFunction, o)
	}
}
