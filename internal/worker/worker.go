// Package worker provides the admission-controlled transcription worker pool.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/engine"
	"whisperd/internal/model"
)

// Options carry per-job transcription parameters.
type Options struct {
	Language    string
	Temperature float64
}

// Job is one admitted unit of transcription work. Immutable after creation
// except for the pool-assigned Worker field.
type Job struct {
	ID        string
	AudioPath string
	Options   Options
	CreatedAt time.Time
	Callback  func(Result)

	// Worker is the index of the worker the pool routed this job to.
	Worker int
}

// Result is delivered exactly once per admitted job. Err is nil on success
// and a classified error on failure.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []engine.Segment
	Err      error
}

// Worker owns a private FIFO queue and processes one job at a time.
type Worker struct {
	id     int
	handle *model.Handle
	engine engine.Engine
	logger *zap.Logger

	jobs    chan *Job
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	busy    atomic.Bool
	queued  atomic.Int32
}

func newWorker(id, queueSize int, handle *model.Handle, eng engine.Engine, logger *zap.Logger) *Worker {
	return &Worker{
		id:     id,
		handle: handle,
		engine: eng,
		logger: logger,
		jobs:   make(chan *Job, queueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the worker loop.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Debug("worker started", zap.Int("worker_id", w.id))
}

// Stop signals the loop to exit and waits up to timeout for the in-flight
// job to finish. Queued jobs that never started are abandoned.
func (w *Worker) Stop(timeout time.Duration) {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.done)

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		w.logger.Debug("worker stopped", zap.Int("worker_id", w.id))
	case <-time.After(timeout):
		w.logger.Warn("worker stop timed out", zap.Int("worker_id", w.id))
	}
}

// Submit enqueues a job. It fails when the worker is not running; it never
// blocks, the queue is sized to the pool capacity.
func (w *Worker) Submit(job *Job) error {
	if !w.running.Load() {
		return fmt.Errorf("worker %d is not running", w.id)
	}

	w.queued.Add(1)
	select {
	case w.jobs <- job:
		return nil
	default:
		w.queued.Add(-1)
		return fmt.Errorf("worker %d queue is full", w.id)
	}
}

// IsBusy reports whether a dequeued job is currently executing.
func (w *Worker) IsBusy() bool {
	return w.busy.Load()
}

// QueueLength returns the number of enqueued jobs not yet started.
func (w *Worker) QueueLength() int {
	return int(w.queued.Load())
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case job := <-w.jobs:
			w.busy.Store(true)
			w.queued.Add(-1)
			w.process(job)
			w.busy.Store(false)
		}
	}
}

// process runs one job and delivers its result through the callback. Any
// failure becomes a Result with Err set; the loop itself never dies.
func (w *Worker) process(job *Job) {
	start := time.Now()
	w.logger.Info("processing job",
		zap.Int("worker_id", w.id),
		zap.String("job_id", job.ID))

	res := w.execute(job)

	if res.Err != nil {
		w.logger.Warn("job failed",
			zap.Int("worker_id", w.id),
			zap.String("job_id", job.ID),
			zap.Error(res.Err))
	} else {
		w.logger.Info("job done",
			zap.Int("worker_id", w.id),
			zap.String("job_id", job.ID),
			zap.Duration("took", time.Since(start)))
	}

	job.Callback(res)
}

func (w *Worker) execute(job *Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: apperr.Transcription(fmt.Errorf("panic: %v", r))}
		}
	}()

	// A dequeued job runs to completion; there is no mid-flight cancellation.
	ctx := context.Background()

	ref, err := w.handle.Get(ctx)
	if err != nil {
		return Result{Err: err}
	}

	out, err := w.engine.Transcribe(ctx, engine.Request{
		AudioPath:   job.AudioPath,
		Model:       ref,
		Language:    job.Options.Language,
		Temperature: job.Options.Temperature,
	})
	if err != nil {
		return Result{Err: apperr.Transcription(err)}
	}

	return Result{
		Text:     out.Text,
		Language: out.Language,
		Duration: out.Duration,
		Segments: out.Segments,
	}
}
