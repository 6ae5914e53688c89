package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type role int

const (
	roleRequests role = iota
	roleReplies
)

// deletePropagation is how long SQS needs before a deleted queue name can
// be reused.
var deletePropagation = 2 * time.Second

type queueSpec struct {
	role       role
	name       string
	attributes map[string]string
}

func commandQueues(env string) []queueSpec {
	return []queueSpec{
		{
			role: roleRequests,
			name: env + "-platform-requests",
			attributes: map[string]string{
				string(types.QueueAttributeNameVisibilityTimeout):      "30",
				string(types.QueueAttributeNameMessageRetentionPeriod): "300",
			},
		},
		{
			// replies older than the retention period have no waiting caller
			role: roleReplies,
			name: env + "-gateway-replies",
			attributes: map[string]string{
				string(types.QueueAttributeNameVisibilityTimeout):             "30",
				string(types.QueueAttributeNameMessageRetentionPeriod):        "300",
				string(types.QueueAttributeNameReceiveMessageWaitTimeSeconds): "20",
			},
		},
	}
}

// ensureQueue creates q. A queue that exists with other attributes is
// reused as is.
func ensureQueue(ctx context.Context, client QueueAPI, q queueSpec) (string, error) {
	out, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(q.name),
		Attributes: q.attributes,
	})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	var exists *types.QueueNameExists
	if !errors.As(err, &exists) {
		return "", fmt.Errorf("failed to create queue %s: %w", q.name, err)
	}

	got, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(q.name)})
	if err != nil {
		return "", fmt.Errorf("failed to get existing queue %s: %w", q.name, err)
	}
	return aws.ToString(got.QueueUrl), nil
}

func deleteQueueIfExists(ctx context.Context, client QueueAPI, name string) error {
	got, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		var missing *types.QueueDoesNotExist
		if errors.As(err, &missing) {
			return nil
		}
		return err
	}

	if err := deleteQueue(ctx, client, aws.ToString(got.QueueUrl)); err != nil {
		return err
	}

	select {
	case <-time.After(deletePropagation):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deleteQueue(ctx context.Context, client QueueAPI, url string) error {
	if _, err := client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", url, err)
	}
	return nil
}
