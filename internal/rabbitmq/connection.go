package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// Connection retry settings
	maxConnectRetries = 10
	retryInterval     = 5 * time.Second
)

// Connect establishes a connection to RabbitMQ with retry logic.
func Connect(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxConnectRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("rabbitmq connected")
			return conn, nil
		}

		if i < maxConnectRetries-1 {
			logger.Warn("rabbitmq connect failed, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", maxConnectRetries),
				zap.Duration("retry_in", retryInterval),
				zap.Error(err))
			time.Sleep(retryInterval)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxConnectRetries, err)
}
