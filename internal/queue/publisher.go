package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher publishes jobs to the broker. Finished-job history lives
// in Redis, so it also serves as the Inspector for this backend.
type RabbitMQPublisher struct {
	client  *RabbitMQ
	history *History
}

func NewRabbitMQPublisher(client *RabbitMQ, history *History) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, history: history}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, job PublishJob) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid publish job: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	return publishJob(ctx, ch, p.client.queue, job, 0)
}

// amqpPublisher is the part of *amqp.Channel used to send jobs.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// publishJob sends job to the work queue, or to the retry queue with a
// per-message TTL when delay is positive.
func publishJob(ctx context.Context, ch amqpPublisher, queue string, job PublishJob, delay time.Duration) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}

	routingKey := queue
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    job.JobID,
		Body:         payload,
	}
	if delay > 0 {
		routingKey = RetryQueueName(queue)
		publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish job to queue %q: %w", routingKey, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Stats(ctx context.Context) (Stats, error) {
	if p == nil || p.client == nil {
		return Stats{}, fmt.Errorf("publisher is not initialized")
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer ch.Close()

	work, err := ch.QueueDeclarePassive(p.client.queue, true, false, false, false, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to inspect queue %q: %w", p.client.queue, err)
	}
	retry, err := ch.QueueDeclarePassive(RetryQueueName(p.client.queue), true, false, false, false, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to inspect retry queue: %w", err)
	}

	stats := Stats{Waiting: int64(work.Messages), Delayed: int64(retry.Messages)}
	if p.history != nil {
		if stats.Completed, stats.Failed, err = p.history.Counts(ctx); err != nil {
			return Stats{}, err
		}
	}
	return stats, nil
}

func (p *RabbitMQPublisher) Recent(ctx context.Context, state JobState, limit int) ([]JobRecord, error) {
	if p == nil || p.history == nil {
		return nil, nil
	}
	return p.history.Recent(ctx, state, limit)
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
