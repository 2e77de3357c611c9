package rabbitmq

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// Queue names
	MainQueue      = "whisperd_transcriptions"
	MainExchange   = "whisperd_exchange"
	MainRoutingKey = "transcription.request"
)

// Consumer pulls transcription requests from the main queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
}

// NewConsumer opens a channel, declares the consuming topology and sets the
// prefetch count to the pool capacity so the broker never hands out more
// work than the pool would admit.
func NewConsumer(conn *amqp.Connection, prefetchCount int, logger *zap.Logger) (*Consumer, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareConsumerTopology(channel); err != nil {
		channel.Close()
		return nil, err
	}

	if err := channel.Qos(prefetchCount, 0, false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		queue:   MainQueue,
		logger:  logger,
	}, nil
}

func declareConsumerTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		MainExchange, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		MainQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(
		MainQueue,      // queue name
		MainRoutingKey, // routing key
		MainExchange,   // exchange
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Consume starts consuming messages and returns a channel of deliveries.
// Malformed messages are rejected without requeue.
func (c *Consumer) Consume() (<-chan Delivery, error) {
	msgs, err := c.channel.Consume(
		c.queue,    // queue
		"whisperd", // consumer tag
		false,      // auto-ack (we'll manually ACK)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	deliveries := make(chan Delivery)

	go func() {
		defer close(deliveries)

		for msg := range msgs {
			var request TranscriptionRequest

			if err := json.Unmarshal(msg.Body, &request); err != nil {
				c.logger.Warn("invalid ingest message", zap.Error(err))
				msg.Nack(false, false)
				continue
			}

			// Extract retry count from header if present
			if retryCount, ok := msg.Headers["x-retry-count"].(int32); ok {
				request.RetryCount = int(retryCount)
			} else if retryCount, ok := msg.Headers["x-retry-count"].(int64); ok {
				request.RetryCount = int(retryCount)
			}

			deliveries <- Delivery{
				Request: request,
				Raw:     msg,
			}
		}
	}()

	c.logger.Info("consuming transcription requests", zap.String("queue", c.queue))
	return deliveries, nil
}

// Close closes the consumer channel.
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
