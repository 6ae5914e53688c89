package bootstrap

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// QueueAPI is the subset of the SQS client used to manage the command queues.
type QueueAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

// Config holds configuration for bootstrapping the command queues on LocalStack.
type Config struct {
	SQSClient QueueAPI

	// Environment prefixes the queue names, e.g. "dev" or "test".
	Environment string

	// CleanResources deletes existing queues before creating them, dropping
	// any commands still queued.
	CleanResources bool
}

// Resources holds the URLs of the command queues.
type Resources struct {
	// RequestQueueURL receives commands for the platform service
	RequestQueueURL string
	// ReplyQueueURL receives the platform service's replies for this gateway
	ReplyQueueURL string
}
