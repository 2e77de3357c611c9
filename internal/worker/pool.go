package worker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/engine"
	"whisperd/internal/model"
)

// WorkerStatus is a snapshot of one worker.
type WorkerStatus struct {
	WorkerID  int  `json:"worker_id"`
	Busy      bool `json:"busy"`
	QueueSize int  `json:"queue_size"`
}

// Status is a non-blocking snapshot of the pool.
type Status struct {
	NumWorkers     int            `json:"num_workers"`
	MaxConcurrent  int            `json:"max_concurrent"`
	ActiveRequests int            `json:"active_requests"`
	Workers        []WorkerStatus `json:"workers"`
}

// Pool is the single entry point for job submission. It enforces the global
// concurrency limit and routes admitted jobs to a worker. The admitted
// counter is the one source of truth for in-flight capacity; it is mutated
// only under the pool lock.
type Pool struct {
	capacity int
	workers  []*Worker
	logger   *zap.Logger

	mu       sync.Mutex
	admitted int
}

// NewPool creates a pool with numWorkers workers and a global limit of
// maxConcurrent admitted jobs.
func NewPool(numWorkers, maxConcurrent int, handle *model.Handle, eng engine.Engine, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		capacity: maxConcurrent,
		logger:   logger,
	}
	for i := 0; i < numWorkers; i++ {
		// Queue size equals pool capacity so an admitted job can always
		// be enqueued without blocking.
		p.workers = append(p.workers, newWorker(i, maxConcurrent, handle, eng, logger))
	}
	return p
}

// Start launches all workers.
func (p *Pool) Start() {
	for _, w := range p.workers {
		w.Start()
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", len(p.workers)),
		zap.Int("max_concurrent", p.capacity))
}

// Stop stops all workers, waiting up to timeout per worker for the current
// job to finish.
func (p *Pool) Stop(timeout time.Duration) {
	p.logger.Info("stopping worker pool")
	for _, w := range p.workers {
		w.Stop(timeout)
	}
}

// Submit admits the job against the global limit and enqueues it on a
// worker. The admission check and counter increment are one atomic step; no
// worker is touched on rejection. The job's callback is wrapped so capacity
// is released exactly once when the result is delivered.
func (p *Pool) Submit(job *Job) error {
	p.mu.Lock()
	if p.admitted >= p.capacity {
		p.mu.Unlock()
		p.logger.Warn("pool saturated, rejecting job",
			zap.String("job_id", job.ID),
			zap.Int("max_concurrent", p.capacity))
		return apperr.ServerBusy(p.capacity)
	}
	p.admitted++
	admitted := p.admitted
	p.mu.Unlock()

	callback := job.Callback
	var once sync.Once
	job.Callback = func(res Result) {
		once.Do(p.release)
		if callback != nil {
			callback(res)
		}
	}

	w := p.pickWorker()
	job.Worker = w.id
	if err := w.Submit(job); err != nil {
		p.release()
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	p.logger.Info("job admitted",
		zap.String("job_id", job.ID),
		zap.Int("worker_id", w.id),
		zap.Int("active_requests", admitted))
	return nil
}

// release frees one unit of capacity, flooring at zero.
func (p *Pool) release() {
	p.mu.Lock()
	if p.admitted > 0 {
		p.admitted--
	}
	p.mu.Unlock()
}

// pickWorker prefers the first worker that is idle with an empty queue,
// otherwise the smallest queue with the lowest index winning ties.
func (p *Pool) pickWorker() *Worker {
	for _, w := range p.workers {
		if !w.IsBusy() && w.QueueLength() == 0 {
			return w
		}
	}

	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.QueueLength() < best.QueueLength() {
			best = w
		}
	}
	return best
}

// GetStatus returns a snapshot for health checks.
func (p *Pool) GetStatus() Status {
	p.mu.Lock()
	admitted := p.admitted
	p.mu.Unlock()

	st := Status{
		NumWorkers:     len(p.workers),
		MaxConcurrent:  p.capacity,
		ActiveRequests: admitted,
		Workers:        make([]WorkerStatus, 0, len(p.workers)),
	}
	for _, w := range p.workers {
		st.Workers = append(st.Workers, WorkerStatus{
			WorkerID:  w.id,
			Busy:      w.IsBusy(),
			QueueSize: w.QueueLength(),
		})
	}
	return st
}
