package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConfig holds configuration for SQS connection
type SQSConfig struct {
	Region   string `env:"SQS_REGION" envDefault:"us-east-1"`
	QueueUrl string `env:"SQS_QUEUE_URL"`             // Optional fixed queue URL, otherwise resolved by name
	Profile  string `env:"SQS_PROFILE"`               // Optional AWS profile
	Endpoint string `env:"SQS_ENDPOINT"`              // Optional endpoint, e.g. a local SQS emulator
	Wait     int32  `env:"SQS_WAIT_SECONDS" envDefault:"20"`
}

// LoadSQSClient loads an SQS client from config
func LoadSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
