package rabbitmq

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/service"
)

// transcriber is the slice of the transcription service the ingest needs.
type transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename, declaredMime string, params service.Params, requestID string) (*service.Transcript, error)
}

// publisher is the slice of the producer the ingest needs.
type publisher interface {
	PublishSuccess(requestID, text, language string, duration float64) error
	PublishError(requestID, errorMessage string) error
	PublishRetry(request TranscriptionRequest) error
}

// Ingest drives queued transcription requests through the same validation
// and worker pool pipeline as the HTTP path.
type Ingest struct {
	svc      transcriber
	producer publisher
	logger   *zap.Logger
}

// NewIngest creates the AMQP ingest bridge.
func NewIngest(svc *service.Transcriber, producer *Producer, logger *zap.Logger) *Ingest {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingest{svc: svc, producer: producer, logger: logger}
}

// Run processes deliveries until the channel closes or ctx is cancelled.
func (i *Ingest) Run(ctx context.Context, deliveries <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			i.handle(ctx, d)
		}
	}
}

func (i *Ingest) handle(ctx context.Context, d Delivery) {
	request := d.Request
	i.logger.Info("ingest job received",
		zap.String("request_id", request.RequestID),
		zap.String("audio_path", request.AudioFilePath),
		zap.Int("retry_count", request.RetryCount))

	data, err := os.ReadFile(request.AudioFilePath)
	if err != nil {
		if pubErr := i.producer.PublishError(request.RequestID, "Audio file not found: "+request.AudioFilePath); pubErr != nil {
			i.logger.Error("publish failed", zap.Error(pubErr), zap.String("request_id", request.RequestID))
			d.Raw.Nack(false, true) // Requeue
			return
		}
		d.Raw.Ack(false)
		return
	}

	result, err := i.svc.Transcribe(ctx, data, filepath.Base(request.AudioFilePath), "",
		service.Params{Language: request.Language}, request.RequestID)

	if err != nil {
		if isPermanent(err) {
			// Validation failures never succeed on retry.
			if pubErr := i.producer.PublishError(request.RequestID, err.Error()); pubErr != nil {
				i.logger.Error("publish failed", zap.Error(pubErr), zap.String("request_id", request.RequestID))
				d.Raw.Nack(false, true)
				return
			}
			d.Raw.Ack(false)
			return
		}
		i.handleFailure(d, err.Error())
		return
	}

	if pubErr := i.producer.PublishSuccess(request.RequestID, result.Text, result.Language, result.Duration); pubErr != nil {
		i.logger.Error("publish failed", zap.Error(pubErr), zap.String("request_id", request.RequestID))
		d.Raw.Nack(false, true)
		return
	}

	d.Raw.Ack(false)
	i.logger.Info("ingest job done",
		zap.String("request_id", request.RequestID),
		zap.Float64("duration", result.Duration))
}

// handleFailure retries transient failures with a delay, or publishes the
// error once retries are exhausted.
func (i *Ingest) handleFailure(d Delivery, errorMessage string) {
	request := d.Request

	if ShouldRetry(request.RetryCount) {
		i.logger.Info("retrying ingest job",
			zap.String("request_id", request.RequestID),
			zap.Int("attempt", request.RetryCount+1),
			zap.Int("max_retries", MaxRetries))

		if err := i.producer.PublishRetry(request); err != nil {
			i.logger.Error("retry publish failed", zap.Error(err), zap.String("request_id", request.RequestID))
			d.Raw.Nack(false, true)
			return
		}
		d.Raw.Ack(false)
		return
	}

	i.logger.Warn("ingest job failed",
		zap.String("request_id", request.RequestID),
		zap.String("error", errorMessage))

	if err := i.producer.PublishError(request.RequestID, errorMessage); err != nil {
		i.logger.Error("error publish failed", zap.Error(err), zap.String("request_id", request.RequestID))
		d.Raw.Nack(false, true) // Requeue
		return
	}
	d.Raw.Ack(false)
}

// isPermanent reports whether the error is a client-side rejection that a
// retry cannot fix.
func isPermanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindFileTooLarge, apperr.KindUnsupportedFormat,
		apperr.KindCorruptedFile, apperr.KindDurationExceeded:
		return true
	}
	return false
}
