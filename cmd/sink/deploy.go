package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sinkhq/sink/internal/awsenv"
	"github.com/sinkhq/sink/internal/config"
	"github.com/sinkhq/sink/internal/deploy"
	"github.com/sinkhq/sink/internal/logger"
	"github.com/sinkhq/sink/internal/pages"
)

type deployFlags struct {
	configPath string
	envFile    string
	platform   string
	region     string
	skipBuild  bool
	yes        bool
	strict     bool
	logLevel   string
	logFormat  string
}

func newDeployCmd() *cobra.Command {
	var f deployFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build and publish to S3, then invalidate CloudFront (or publish to GitHub Pages)",
		Long: `Build the project, sync the build directory to the configured bucket and
key prefix, and invalidate changed paths on the CloudFront distribution.

Examples:
  # Deploy using sink.toml found in this or a parent directory
  sink deploy

  # Deploy an existing build without prompting
  sink deploy --skip-build --yes

  # Publish to GitHub Pages through the project's deploy script
  sink deploy --platform github`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to config file (default: search for "+config.DefaultFile+")")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "dotenv file with AWS credentials (default: .env beside the config)")
	cmd.Flags().StringVar(&f.platform, "platform", "", "platform to deploy to: aws or github (default from config, else aws)")
	cmd.Flags().StringVar(&f.region, "region", "", "AWS region override")
	cmd.Flags().BoolVar(&f.skipBuild, "skip-build", false, "skip the build command")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "auto-confirm deploying to the bucket root")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero when any upload, delete or invalidation fails")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "console", "log format (console, json)")

	return cmd
}

func runDeploy(ctx context.Context, f deployFlags) error {
	log, err := logger.New(logger.Config{Level: f.logLevel, Format: f.logFormat})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	path := f.configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		if path, err = config.Find(wd, config.DefaultFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.Debug("loaded config", zap.String("path", path))

	envFile := f.apply(cfg)
	builder := deploy.ShellBuilder{Stdout: os.Stderr, Stderr: os.Stderr}

	switch cfg.Deployment.Platform {
	case config.PlatformAWS:
	case config.PlatformGitHub:
		_, err := pages.Publish(ctx, cfg, builder, log)
		return err
	default:
		return fmt.Errorf("%w: unknown platform %q", config.ErrInvalid, cfg.Deployment.Platform)
	}

	d := deploy.New(cfg, connector(envFile), builder, deploy.NewPromptConfirmer(), log)

	report, err := d.Run(ctx)
	if report != nil {
		summarize(log, report)
	}
	return err
}

// apply overrides cfg with flags that were set and returns the dotenv path.
func (f deployFlags) apply(cfg *config.Config) string {
	if f.platform != "" {
		cfg.Deployment.Platform = f.platform
	}
	if f.region != "" {
		cfg.Deployment.Region = f.region
	}
	if f.skipBuild {
		cfg.Deployment.SkipBuild = true
	}
	if f.yes {
		cfg.Deployment.AutoConfirm = true
	}
	if f.strict {
		cfg.Deployment.Strict = true
	}
	if f.envFile != "" {
		return f.envFile
	}
	return filepath.Join(cfg.Dir, ".env")
}

func connector(envFile string) deploy.Connector {
	return func(ctx context.Context, t config.Target) (*deploy.Clients, error) {
		awsCfg, err := awsenv.Load(ctx, t, envFile)
		if err != nil {
			return nil, err
		}
		cf := cloudfront.NewFromConfig(awsCfg)
		return &deploy.Clients{
			S3:          s3.NewFromConfig(awsCfg),
			CloudFront:  cf,
			KVS:         cloudfrontkeyvaluestore.NewFromConfig(awsCfg),
			KVSResolver: cf,
			Functions:   cf,
		}, nil
	}
}

func summarize(log *zap.Logger, r *deploy.Report) {
	log.Info("deploy complete",
		zap.Int("uploaded", len(r.Succeeded(deploy.OpPut))),
		zap.String("bytes", humanize.Bytes(uint64(r.UploadedBytes))),
		zap.Int("deleted", len(r.Succeeded(deploy.OpDelete))),
		zap.Int("skipped", len(r.Skipped)),
		zap.Int("failed", len(r.Failed())),
		zap.Strings("invalidated", r.InvalidationPaths))
	for _, res := range r.Failed() {
		log.Warn("failed", zap.String("op", string(res.Op)), zap.String("key", res.Key),
			zap.Int("status", res.Status), zap.Error(res.Err))
	}
}
