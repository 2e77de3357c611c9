// Package rabbitmq provides the optional AMQP ingest path: transcription
// requests consumed from a queue, results published back.
package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// TranscriptionRequest is an incoming transcription job referencing audio
// already on disk.
type TranscriptionRequest struct {
	RequestID     string `json:"request_id"`
	AudioFilePath string `json:"audio_file_path"`
	Language      string `json:"language,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`
}

// TranscriptionResult is the outcome published to the results queue.
type TranscriptionResult struct {
	RequestID    string  `json:"request_id"`
	Text         string  `json:"text"`
	Duration     float64 `json:"duration"`
	Language     string  `json:"language,omitempty"`
	Model        string  `json:"model"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Delivery pairs a decoded request with its AMQP delivery for ACK/NACK.
type Delivery struct {
	Request TranscriptionRequest
	Raw     amqp.Delivery
}
