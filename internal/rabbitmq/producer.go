package rabbitmq

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// Result queue configuration
	ResultsQueue      = "whisperd_results"
	ResultsExchange   = "whisperd_results_exchange"
	ResultsRoutingKey = "transcription.result"

	// Retry queue configuration
	RetryExchange   = "whisperd_retry_exchange"
	RetryRoutingKey = "transcription.retry"
	RetryQueue      = "whisperd_retry_queue"
	RetryTTLMs      = 5000 // 5 seconds delay before retry

	// Max retries (2 retries = 3 total attempts)
	MaxRetries = 2
)

// Producer publishes transcription results and retries.
type Producer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	model   string
	logger  *zap.Logger
}

// NewProducer opens a channel and declares the producing topology. model is
// stamped on every published result.
func NewProducer(conn *amqp.Connection, model string, logger *zap.Logger) (*Producer, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareProducerTopology(channel); err != nil {
		channel.Close()
		return nil, err
	}

	logger.Info("result producer ready")

	return &Producer{
		conn:    conn,
		channel: channel,
		model:   model,
		logger:  logger,
	}, nil
}

func declareProducerTopology(ch *amqp.Channel) error {
	// === Results topology ===

	if err := ch.ExchangeDeclare(
		ResultsExchange, // name
		"direct",        // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("failed to declare results exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		ResultsQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare results queue: %w", err)
	}

	if err := ch.QueueBind(
		ResultsQueue,      // queue name
		ResultsRoutingKey, // routing key
		ResultsExchange,   // exchange
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("failed to bind results queue: %w", err)
	}

	// === Retry topology ===

	if err := ch.ExchangeDeclare(
		RetryExchange, // name
		"direct",      // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		return fmt.Errorf("failed to declare retry exchange: %w", err)
	}

	// Retry queue delays messages via TTL, then dead-letters them back to
	// the main queue.
	if _, err := ch.QueueDeclare(
		RetryQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		amqp.Table{
			"x-message-ttl":             int32(RetryTTLMs),
			"x-dead-letter-exchange":    MainExchange,
			"x-dead-letter-routing-key": MainRoutingKey,
		},
	); err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	if err := ch.QueueBind(
		RetryQueue,      // queue name
		RetryRoutingKey, // routing key
		RetryExchange,   // exchange
		false,           // no-wait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("failed to bind retry queue: %w", err)
	}

	return nil
}

// PublishResult publishes a transcription result to the results queue.
func (p *Producer) PublishResult(result TranscriptionResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = p.channel.Publish(
		ResultsExchange,   // exchange
		ResultsRoutingKey, // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	return nil
}

// PublishRetry re-publishes a request to the retry queue with an incremented
// retry count.
func (p *Producer) PublishRetry(request TranscriptionRequest) error {
	request.RetryCount++

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal retry request: %w", err)
	}

	err = p.channel.Publish(
		RetryExchange,   // exchange
		RetryRoutingKey, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers: amqp.Table{
				"x-retry-count": int32(request.RetryCount),
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish retry: %w", err)
	}

	return nil
}

// PublishError publishes a failed result.
func (p *Producer) PublishError(requestID, errorMessage string) error {
	return p.PublishResult(TranscriptionResult{
		RequestID:    requestID,
		Model:        p.model,
		Success:      false,
		ErrorMessage: errorMessage,
	})
}

// PublishSuccess publishes a successful transcription result.
func (p *Producer) PublishSuccess(requestID, text, language string, duration float64) error {
	return p.PublishResult(TranscriptionResult{
		RequestID: requestID,
		Text:      text,
		Language:  language,
		Duration:  duration,
		Model:     p.model,
		Success:   true,
	})
}

// ShouldRetry checks if a request should be retried based on retry count.
func ShouldRetry(retryCount int) bool {
	return retryCount < MaxRetries
}

// Close closes the producer channel.
func (p *Producer) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
