// Package sqsrpc implements request/reply commands over a pair of SQS queues.
package sqsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
)

const (
	attrCorrelationID = "correlation_id"
	attrReplyTo       = "reply_to"
	attrCmd           = "cmd"

	sqsMaxMessages = 10

	// DefaultMaxMessageBytes is the SQS message size quota, counting the body
	// and message attributes.
	DefaultMaxMessageBytes = 256 << 10

	// envelopeReserve is kept free for the command envelope and attributes
	// when deriving HTTP body limits.
	envelopeReserve = 4 << 10
)

var ErrThrottled = errors.New("request throttled")

// API is the subset of the SQS client used by Client.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config configures the SQS command client.
type Config struct {
	RequestQueueURL   string
	ReplyQueueURL     string
	ReplyTimeout      time.Duration
	ConnectTimeout    time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	// WaitTimeSeconds is the long poll duration for the reply queue.
	WaitTimeSeconds int32
	// MaxMessageBytes caps an outgoing message, DefaultMaxMessageBytes when zero.
	MaxMessageBytes int
}

func (c Config) withDefaults() Config {
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WaitTimeSeconds <= 0 || c.WaitTimeSeconds > 20 {
		c.WaitTimeSeconds = 20
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

// BodyLimits returns the largest JSON body and multipart upload that still
// fit in a message of maxMessage bytes. Uploads are base64 encoded into the
// payload so they get three quarters of the JSON allowance.
func BodyLimits(maxMessage int) (body, upload int64) {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessageBytes
	}
	body = int64(maxMessage - envelopeReserve)
	if body < 1 {
		body = 1
	}
	return body, body / 4 * 3
}

// messageSize counts bytes the way SQS applies its size quota.
func messageSize(body string, attrs map[string]sqstypes.MessageAttributeValue) int {
	size := len(body)
	for name, attr := range attrs {
		size += len(name) + len(aws.ToString(attr.DataType)) + len(aws.ToString(attr.StringValue)) + len(attr.BinaryValue)
	}
	return size
}

// Client sends commands to the request queue and routes replies arriving on
// its reply queue back to the waiting caller by correlation id.
type Client struct {
	api API
	cfg Config

	mu      sync.Mutex
	pending map[string]chan *rpc.Reply

	healthy atomic.Bool
	closed  atomic.Bool
	newID   func() string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a client. Connect must be called before the first Call.
func New(api API, cfg Config) *Client {
	return &Client{
		api:     api,
		cfg:     cfg.withDefaults(),
		pending: make(map[string]chan *rpc.Reply),
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		stopCh:  make(chan struct{}),
	}
}

// wrapAWSError wraps AWS SDK errors, identifying throttling errors.
func wrapAWSError(err error, msg string) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "RequestThrottled") ||
		strings.Contains(errMsg, "TooManyRequestsException") {
		return fmt.Errorf("%s: %w: %v", msg, ErrThrottled, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// Connect probes the request and reply queues, retrying at ReconnectDelay
// until ConnectTimeout elapses, then starts the reply and heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	log.Info().
		Str("request_queue", c.cfg.RequestQueueURL).
		Str("reply_queue", c.cfg.ReplyQueueURL).
		Msg("Connecting command client")

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.probe(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(c.cfg.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Command broker not reachable, retrying")
		}),
	)
	if err != nil {
		return apperror.Transport("failed to connect to command broker", err)
	}

	c.healthy.Store(true)

	c.wg.Add(2)
	go c.receiveLoop()
	go c.heartbeatLoop()

	log.Info().Msg("Command client connected")
	return nil
}

func (c *Client) probe(ctx context.Context) error {
	for _, queueURL := range []string{c.cfg.RequestQueueURL, c.cfg.ReplyQueueURL} {
		_, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(queueURL),
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
		if err != nil {
			return wrapAWSError(err, "failed to get queue attributes")
		}
	}
	return nil
}

// Healthy reports the result of the last heartbeat.
func (c *Client) Healthy() bool {
	return c.healthy.Load() && !c.closed.Load()
}

// Call implements rpc.Caller.
func (c *Client) Call(ctx context.Context, cmd command.Command, payload any, out any) error {
	if c.closed.Load() {
		return apperror.Transport("command client closed", rpc.ErrClosed)
	}

	req, err := rpc.NewRequest(c.newID(), cmd, payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{
		attrCorrelationID: stringAttr(req.ID),
		attrReplyTo:       stringAttr(c.cfg.ReplyQueueURL),
		attrCmd:           stringAttr(cmd.String()),
	}

	if size := messageSize(string(body), attrs); size > c.cfg.MaxMessageBytes {
		log.Warn().Str("cmd", cmd.String()).Int("size", size).Int("limit", c.cfg.MaxMessageBytes).Msg("Command exceeds message size limit")
		return apperror.TooLarge(fmt.Sprintf("request is %d bytes, the limit is %d bytes", size, c.cfg.MaxMessageBytes))
	}

	replyCh := c.register(req.ID)
	defer c.unregister(req.ID)

	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.cfg.RequestQueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		log.Error().Err(err).Str("cmd", cmd.String()).Str("correlation_id", req.ID).Msg("Failed to send command to SQS")
		return rpc.TransportError(cmd, wrapAWSError(err, "failed to send command"))
	}

	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.Decode(out)
	case <-timer.C:
		log.Warn().Str("cmd", cmd.String()).Str("correlation_id", req.ID).Msg("Timed out waiting for reply")
		return rpc.TransportError(cmd, context.DeadlineExceeded)
	case <-ctx.Done():
		return rpc.TransportError(cmd, ctx.Err())
	case <-c.stopCh:
		return rpc.TransportError(cmd, rpc.ErrClosed)
	}
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

func (c *Client) register(id string) chan *rpc.Reply {
	ch := make(chan *rpc.Reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	telemetry.GetMetrics().PendingReplies.Add(context.Background(), 1)
	return ch
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	telemetry.GetMetrics().PendingReplies.Add(context.Background(), -1)
}

// deliver hands reply to its waiting caller, reporting whether one existed.
func (c *Client) deliver(reply *rpc.Reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- reply:
	default:
	}
	return true
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		output, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.cfg.ReplyQueueURL),
			MaxNumberOfMessages:   sqsMaxMessages,
			WaitTimeSeconds:       c.cfg.WaitTimeSeconds,
			MessageAttributeNames: []string{attrCorrelationID},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(wrapAWSError(err, "failed to receive replies")).Dur("retry_in", c.cfg.ReconnectDelay).Msg("Reply receive failed")
			select {
			case <-time.After(c.cfg.ReconnectDelay):
			case <-c.stopCh:
				return
			}
			continue
		}

		for _, message := range output.Messages {
			c.handleMessage(ctx, message)
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, message sqstypes.Message) {
	defer func() {
		if err := c.deleteMessage(ctx, message); err != nil {
			log.Warn().Err(err).Str("message_id", aws.ToString(message.MessageId)).Msg("Failed to delete reply message")
		}
	}()

	var reply rpc.Reply
	if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &reply); err != nil {
		log.Warn().Err(err).Str("message_id", aws.ToString(message.MessageId)).Msg("Discarding malformed reply")
		return
	}

	if reply.ID == "" {
		if attr, ok := message.MessageAttributes[attrCorrelationID]; ok {
			reply.ID = aws.ToString(attr.StringValue)
		}
	}

	if !c.deliver(&reply) {
		telemetry.GetMetrics().OrphanedRepliesTotal.Add(ctx, 1)
		log.Warn().Str("correlation_id", reply.ID).Msg("Discarding reply with no waiting caller")
	}
}

func (c *Client) deleteMessage(ctx context.Context, message sqstypes.Message) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.ReplyQueueURL),
		ReceiptHandle: message.ReceiptHandle,
	})
	return wrapAWSError(err, "failed to delete message")
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HeartbeatInterval)
			err := c.probe(ctx)
			cancel()

			wasHealthy := c.healthy.Swap(err == nil)
			switch {
			case err != nil && wasHealthy:
				log.Error().Err(err).Msg("Command broker heartbeat failed")
			case err == nil && !wasHealthy:
				log.Info().Msg("Command broker heartbeat recovered")
			}
		}
	}
}

// Close stops the background loops. Calls still waiting fail with a
// transport error.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	log.Info().Msg("Stopping command client")
	close(c.stopCh)
	c.wg.Wait()
	return nil
}
