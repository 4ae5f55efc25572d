package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sinkhq/sink/internal/logger"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sink",
	Short: "Publish a static build to S3 behind CloudFront",
	Long: `sink publishes a build directory to an S3 key prefix, uploading only
files whose content changed, deleting objects no longer in the build, and
invalidating the affected CloudFront paths.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	rootCmd.AddCommand(versionCmd, newDeployCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		l, logErr := logger.New(logger.Config{Format: "console"})
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		l.Error("command failed", zap.Error(err))
		_ = l.Sync()
		os.Exit(1)
	}
}
