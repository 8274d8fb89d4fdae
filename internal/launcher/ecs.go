// Package launcher starts isolated transcode worker runs, one per
// admitted asset.
package launcher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ECSConfig holds the Fargate task settings for transcode workers.
type ECSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Cluster         string
	TaskDefinition  string
	ContainerName   string
	Subnets         []string
	SecurityGroup   string
	MediaBucket     string
}

// ECSLauncher runs one Fargate task per transcode. Nothing beyond the
// launch acknowledgment is awaited; the worker reports through the
// database and the admission gate.
type ECSLauncher struct {
	client *ecs.Client
	cfg    ECSConfig
	logger *zap.Logger
}

// NewECSLauncher creates an ECS task launcher.
func NewECSLauncher(ctx context.Context, cfg ECSConfig, logger *zap.Logger) (*ECSLauncher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ECSLauncher{client: ecs.NewFromConfig(awsCfg), cfg: cfg, logger: logger}, nil
}

// LaunchTranscode starts one worker task with the asset reference passed
// through container environment overrides.
func (l *ECSLauncher) LaunchTranscode(ctx context.Context, userID uuid.UUID, storageKey string) error {
	env := []types.KeyValuePair{
		{Name: aws.String("VIDEO_KEY"), Value: aws.String(storageKey)},
		{Name: aws.String("USER_ID"), Value: aws.String(userID.String())},
		{Name: aws.String("AWS_REGION"), Value: aws.String(l.cfg.Region)},
		{Name: aws.String("AWS_S3_MEDIA_BUCKET"), Value: aws.String(l.cfg.MediaBucket)},
	}
	out, err := l.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(l.cfg.Cluster),
		TaskDefinition: aws.String(l.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				AssignPublicIp: types.AssignPublicIpEnabled,
				Subnets:        l.cfg.Subnets,
				SecurityGroups: []string{l.cfg.SecurityGroup},
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{
				{
					Name:        aws.String(l.cfg.ContainerName),
					Environment: env,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("run task: %w", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return fmt.Errorf("run task rejected: %s: %s",
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	l.logger.Info("transcode task launched",
		zap.String("storage_key", storageKey),
		zap.String("cluster", l.cfg.Cluster),
	)
	return nil
}
