// Package service orchestrates a transcription request end to end: dump,
// validate, stage to disk, admit to the pool and await the result.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whisperd/internal/engine"
	"whisperd/internal/validator"
	"whisperd/internal/worker"
)

// Params carry the caller-supplied transcription parameters.
type Params struct {
	Model          string
	Language       string
	ResponseFormat string
	Temperature    float64
}

// Transcript is the completed result returned to the caller.
type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []engine.Segment
	Format   string
}

// Transcriber validates uploads and runs them through the worker pool.
type Transcriber struct {
	validator *validator.Validator
	pool      *worker.Pool
	dumpDir   string
	tmpDir    string
	logger    *zap.Logger
}

// New creates the transcription service. dumpDir may be empty to disable
// audio dumping.
func New(v *validator.Validator, pool *worker.Pool, dumpDir, tmpDir string, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Transcriber{
		validator: v,
		pool:      pool,
		dumpDir:   dumpDir,
		tmpDir:    tmpDir,
		logger:    logger,
	}
}

// Transcribe runs the full pipeline for one upload. Validation and admission
// errors are returned synchronously; execution failures arrive through the
// job callback and are returned the same way. A caller that abandons ctx does
// not cancel the server-side job; capacity is released only when the worker
// delivers the result.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, filename, declaredMime string, params Params, requestID string) (*Transcript, error) {
	t.logger.Info("starting transcription request",
		zap.String("filename", filename),
		zap.Int("size_bytes", len(data)),
		zap.String("request_id", requestID))

	if err := t.dump(data, filename, requestID); err != nil {
		return nil, err
	}

	validated, err := t.validator.Validate(ctx, data, filename, declaredMime)
	if err != nil {
		return nil, err
	}

	audioPath, err := t.stage(data, filename)
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	results := make(chan worker.Result, 1)
	job := &worker.Job{
		ID:        uuid.NewString(),
		AudioPath: audioPath,
		Options: worker.Options{
			Language:    params.Language,
			Temperature: params.Temperature,
		},
		CreatedAt: time.Now(),
		Callback:  func(r worker.Result) { results <- r },
	}

	if err := t.pool.Submit(job); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		// The job keeps running; its result is discarded when it arrives.
		t.logger.Warn("caller abandoned request",
			zap.String("request_id", requestID),
			zap.String("job_id", job.ID))
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}

		duration := res.Duration
		if duration == 0 {
			duration = validated.Duration
		}
		t.logger.Info("transcription completed",
			zap.String("request_id", requestID),
			zap.String("job_id", job.ID),
			zap.Int("text_length", len(res.Text)))

		return &Transcript{
			Text:     res.Text,
			Language: res.Language,
			Duration: duration,
			Segments: res.Segments,
			Format:   validated.Format,
		}, nil
	}
}

// stage writes the upload to a temp file, preserving the extension for the
// engine.
func (t *Transcriber) stage(data []byte, filename string) (string, error) {
	f, err := os.CreateTemp(t.tmpDir, "whisperd-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// dump persists the upload to the configured dump directory with a timestamp
// prefix. Disabled when no directory is configured.
func (t *Transcriber) dump(data []byte, filename, requestID string) error {
	if t.dumpDir == "" {
		return nil
	}

	safe := filepath.Base(filename)
	if safe == "" || safe == "." || safe == string(filepath.Separator) {
		safe = "audio.mp3"
	}
	path := filepath.Join(t.dumpDir, time.Now().Format("20060102150405")+"_"+safe)

	if err := os.MkdirAll(t.dumpDir, 0o755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save uploaded audio: %w", err)
	}

	t.logger.Info("saved uploaded audio",
		zap.String("dump_path", path),
		zap.String("request_id", requestID))
	return nil
}
