package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/bootstrap"
)

// BootstrapCmd creates the request and reply queues for local development.
type BootstrapCmd struct {
	Environment string `help:"environment name used as the queue prefix" default:"dev" env:"GATEWAY_ENVIRONMENT"`
	AWSRegion   string `help:"AWS region" default:"us-east-1" env:"AWS_REGION"`
	AWSEndpoint string `help:"AWS endpoint (for LocalStack)" default:"http://localhost:4566" env:"AWS_ENDPOINT"`
	Clean       bool   `help:"delete existing queues before creating them" default:"false"`
	Delete      bool   `help:"delete the queues instead of creating them" default:"false"`
}

func (cmd *BootstrapCmd) Validate() error {
	if cmd.Clean && cmd.Delete {
		return errors.New("--clean and --delete are mutually exclusive")
	}
	return nil
}

// Run executes the bootstrap command
func (cmd *BootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	awsCfg, err := loadAWSConfig(ctx, cmd.AWSRegion, cmd.AWSEndpoint)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	cfg := bootstrap.Config{
		SQSClient:      sqs.NewFromConfig(awsCfg),
		Environment:    cmd.Environment,
		CleanResources: cmd.Clean,
	}

	res, err := bootstrap.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}

	if cmd.Delete {
		if err := bootstrap.Cleanup(ctx, cfg, res); err != nil {
			return err
		}
		log.Info().Str("environment", cmd.Environment).Msg("Command queues deleted")
		return nil
	}

	fmt.Printf("GATEWAY_SQS_REQUEST_QUEUE_URL=%s\n", res.RequestQueueURL)
	fmt.Printf("GATEWAY_SQS_REPLY_QUEUE_URL=%s\n", res.ReplyQueueURL)
	return nil
}
