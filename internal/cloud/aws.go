// internal/cloud/aws.go
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

// LoadConfig resolves AWS credentials and region the usual SDK way (env, shared
// config, instance role), pinned to the configured region and profile.
func LoadConfig(ctx context.Context, cfg config.MonitorConfig, logger *zap.Logger) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSProfile != "" {
		logger.Info("Using AWS profile.", zap.String("profile", cfg.AWSProfile))
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return awsCfg, nil
}
