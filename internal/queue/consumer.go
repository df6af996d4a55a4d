package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client     *RabbitMQ
	policy     RetryPolicy
	history    *History
	jobTimeout time.Duration
	logger     *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, policy RetryPolicy, history *History, jobTimeout time.Duration, logger *zap.Logger) *RabbitMQConsumer {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:     client,
		policy:     policy.normalized(),
		history:    history,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, handler Handler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("rabbitmq consumer interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler Handler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	// One unacknowledged job at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.client.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", c.client.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, ch, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, ch amqpPublisher, d amqp.Delivery, handler Handler) error {
	job, err := decodeJob(d.Body)
	if err != nil {
		c.logger.Warn("rejecting message: invalid job payload",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	job.Attempts += deliveryAttempts(d)
	settleCtx := context.WithoutCancel(ctx)

	var settlement Settlement
	if c.policy.Exhausted(job) {
		c.logger.Warn("failing job after lost deliveries", zap.String("jobId", job.JobID))
		settlement = c.policy.Abandon(job)
	} else {
		settlement = c.policy.Settle(job, c.run(ctx, job, handler))
	}

	switch settlement.Action {
	case SettleCompleted:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
		c.record(settleCtx, settlement, JobStateCompleted)
	case SettleScheduled:
		if err := publishJob(settleCtx, ch, c.client.queue, settlement.Job, settlement.Delay); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("reschedule failed and nack failed: %w", nackErr)
			}
			return fmt.Errorf("failed to reschedule job %q: %w", job.JobID, err)
		}
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack rescheduled delivery: %w", err)
		}
	default:
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject delivery: %w", err)
		}
		c.record(settleCtx, settlement, JobStateFailed)
	}

	return nil
}

// deliveryAttempts returns how many times the broker has handed out d, this
// delivery included. The quorum work queue reports earlier deliveries in
// x-delivery-count; without it a redelivery counts as one lost delivery.
func deliveryAttempts(d amqp.Delivery) int {
	var prior int64
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		prior = v
	case int32:
		prior = int64(v)
	case int16:
		prior = int64(v)
	case int8:
		prior = int64(v)
	case int:
		prior = int64(v)
	default:
		if d.Redelivered {
			prior = 1
		}
	}
	if prior < 0 {
		prior = 0
	}
	return int(prior) + 1
}

func (c *RabbitMQConsumer) run(ctx context.Context, job PublishJob, handler Handler) (res Result) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job handler panicked", zap.String("jobId", job.JobID), zap.Any("panic", r))
			res = Retry(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	return handler(jobCtx, job)
}

func (c *RabbitMQConsumer) record(ctx context.Context, s Settlement, state JobState) {
	if c.history == nil {
		return
	}
	rec := JobRecord{Job: s.Job, State: state, Reason: s.Reason, FinishedAt: time.Now().UTC()}
	if err := c.history.Record(ctx, rec); err != nil {
		c.logger.Warn("failed to record job history", zap.String("jobId", s.Job.JobID), zap.Error(err))
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
