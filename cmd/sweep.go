// File: cmd/sweep.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/cloud"
	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/monitor"
	"github.com/xkilldash9x/canary-cli/internal/observability"
)

// sweepTargetFactory builds the upload and alert destinations.
type sweepTargetFactory func(ctx context.Context, cfg config.MonitorConfig, logger *zap.Logger) (monitor.ObjectStore, monitor.AlertTransport, error)

// defaultSweepTargets connects to S3 and, when a topic is configured, SNS.
func defaultSweepTargets(ctx context.Context, cfg config.MonitorConfig, logger *zap.Logger) (monitor.ObjectStore, monitor.AlertTransport, error) {
	awsCfg, err := cloud.LoadConfig(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	objects := cloud.NewS3Store(awsCfg, cfg.S3Bucket)
	logger.Info("S3 upload enabled.", zap.String("bucket", cfg.S3Bucket), zap.String("prefix", cfg.S3Prefix))

	if cfg.SNSTopicARN == "" {
		logger.Warn("SNS topic not configured; alerts will only be logged.")
		return objects, monitor.NewLogTransport(logger), nil
	}
	logger.Info("SNS notifications enabled.", zap.String("topic", cfg.SNSTopicARN))
	return objects, cloud.NewSNSTransport(awsCfg, cfg.SNSTopicARN, logger), nil
}

// newSweepCmd creates and configures the `sweep` command.
func newSweepCmd(targets sweepTargetFactory) *cobra.Command {
	var noDelete bool
	var queueDir string

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Uploads queued error runs, sends one alert per run and clears the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("no-delete") {
				cfg.Monitor.NoDelete = noDelete
			}
			if queueDir != "" {
				cfg.Artifacts.QueueDir = queueDir
			}
			if cfg.Monitor.S3Bucket == "" {
				logger.Error("S3 bucket not configured; set monitor.s3_bucket or S3_BUCKET.")
				return monitor.ErrNoBucket
			}

			objects, alerts, err := targets(ctx, cfg.Monitor, logger)
			if err != nil {
				return err
			}
			sweeper, err := monitor.NewSweeper(monitor.NewQueue(cfg.Artifacts.QueueDir, logger), objects, alerts, cfg.Monitor, logger)
			if err != nil {
				return err
			}

			res, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d queue entries: %d alerted, %d deleted, %d failed, %d skipped.\n",
				res.Processed, res.Alerted, res.Deleted, res.Failed, res.Skipped)
			if res.Failed > 0 {
				logger.Warn("Some entries were kept and will be retried on the next sweep.", zap.Int("failed", res.Failed))
			}
			return nil
		},
	}

	sweepCmd.Flags().BoolVar(&noDelete, "no-delete", false, "Keep entries after they are uploaded and alerted. (Overrides config/env)")
	sweepCmd.Flags().StringVar(&queueDir, "queue", "", "Queue directory to sweep. (Overrides config/env)")
	return sweepCmd
}
