// Package bootstrap creates the SQS queues the command client talks over, for
// local development against LocalStack.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Bootstrap creates the request and reply queues, reusing queues that
// already exist unless cfg.CleanResources is set.
func Bootstrap(ctx context.Context, cfg Config) (*Resources, error) {
	if cfg.SQSClient == nil {
		return nil, errors.New("SQSClient is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}

	res := &Resources{}
	for _, q := range commandQueues(cfg.Environment) {
		if cfg.CleanResources {
			if err := deleteQueueIfExists(ctx, cfg.SQSClient, q.name); err != nil {
				return nil, fmt.Errorf("failed to delete existing queue %s: %w", q.name, err)
			}
		}

		url, err := ensureQueue(ctx, cfg.SQSClient, q)
		if err != nil {
			return nil, err
		}

		switch q.role {
		case roleRequests:
			res.RequestQueueURL = url
		case roleReplies:
			res.ReplyQueueURL = url
		}
	}

	log.Info().
		Str("request_queue", res.RequestQueueURL).
		Str("reply_queue", res.ReplyQueueURL).
		Msg("Command queues ready")

	return res, nil
}

// Cleanup deletes the queues created by Bootstrap.
func Cleanup(ctx context.Context, cfg Config, res *Resources) error {
	var errs []error
	for _, url := range []string{res.RequestQueueURL, res.ReplyQueueURL} {
		if url == "" {
			continue
		}
		if err := deleteQueue(ctx, cfg.SQSClient, url); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to delete queues: %w", err)
	}
	return nil
}
