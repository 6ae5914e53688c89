package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"
)

const queueBase = "http://localhost:4566/000000000000/"

// fakeQueues keeps queues by name. Queues listed in conflicting fail
// CreateQueue the way SQS does when attributes differ.
type fakeQueues struct {
	queues      map[string]map[string]string
	conflicting map[string]bool
	deleted     []string
	createErr   error
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{queues: map[string]map[string]string{}, conflicting: map[string]bool{}}
}

func (f *fakeQueues) CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	name := aws.ToString(in.QueueName)
	if _, ok := f.queues[name]; ok && f.conflicting[name] {
		return nil, &types.QueueNameExists{Message: aws.String("queue already exists")}
	}
	f.queues[name] = in.Attributes
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(queueBase + name)}, nil
}

func (f *fakeQueues) GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	name := aws.ToString(in.QueueName)
	if _, ok := f.queues[name]; !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(queueBase + name)}, nil
}

func (f *fakeQueues) DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, _ ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error) {
	url := aws.ToString(in.QueueUrl)
	f.deleted = append(f.deleted, url)
	delete(f.queues, url[len(queueBase):])
	return &sqs.DeleteQueueOutput{}, nil
}

func TestBootstrap(t *testing.T) {
	deletePropagation = 0
	ctx := context.Background()

	t.Run("creates both queues", func(t *testing.T) {
		fake := newFakeQueues()

		res, err := Bootstrap(ctx, Config{SQSClient: fake})
		require.NoError(t, err)
		require.Equal(t, queueBase+"dev-platform-requests", res.RequestQueueURL)
		require.Equal(t, queueBase+"dev-gateway-replies", res.ReplyQueueURL)
		require.Equal(t, "20", fake.queues["dev-gateway-replies"][string(types.QueueAttributeNameReceiveMessageWaitTimeSeconds)])
	})

	t.Run("reuses a queue with other attributes", func(t *testing.T) {
		fake := newFakeQueues()
		fake.queues["test-platform-requests"] = map[string]string{}
		fake.conflicting["test-platform-requests"] = true

		res, err := Bootstrap(ctx, Config{SQSClient: fake, Environment: "test"})
		require.NoError(t, err)
		require.Equal(t, queueBase+"test-platform-requests", res.RequestQueueURL)
		require.Empty(t, fake.deleted)
	})

	t.Run("clean deletes existing queues first", func(t *testing.T) {
		fake := newFakeQueues()
		fake.queues["dev-gateway-replies"] = map[string]string{}

		_, err := Bootstrap(ctx, Config{SQSClient: fake, CleanResources: true})
		require.NoError(t, err)
		require.Equal(t, []string{queueBase + "dev-gateway-replies"}, fake.deleted)
		require.Contains(t, fake.queues, "dev-gateway-replies")
	})

	t.Run("create failure", func(t *testing.T) {
		fake := newFakeQueues()
		fake.createErr = errors.New("access denied")

		_, err := Bootstrap(ctx, Config{SQSClient: fake})
		require.ErrorContains(t, err, "access denied")
	})

	t.Run("requires a client", func(t *testing.T) {
		_, err := Bootstrap(ctx, Config{})
		require.Error(t, err)
	})
}

func TestCleanup(t *testing.T) {
	fake := newFakeQueues()
	ctx := context.Background()

	res, err := Bootstrap(ctx, Config{SQSClient: fake})
	require.NoError(t, err)

	require.NoError(t, Cleanup(ctx, Config{SQSClient: fake}, res))
	require.Empty(t, fake.queues)
	require.Len(t, fake.deleted, 2)
}
