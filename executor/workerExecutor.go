package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("executor stopped")
	ErrQueueFull = errors.New("executor queue is full")
)

type Job struct {
	Id        string
	Ctx       context.Context
	JobFunc   func() error
	OnError   func(error)
	OnSuccess func()
}

type WorkerExecutorOptions struct {
	MaxRetries   int
	WorkerCount  int
	QueueSize    int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

type WorkerExecutor struct {
	ctx  context.Context
	jobs chan Job
	wg   *sync.WaitGroup

	mtx     sync.RWMutex
	stopped bool

	logger *zap.Logger
	opts   *WorkerExecutorOptions
}

func NewWorkerExecutor(ctx context.Context, opts *WorkerExecutorOptions) *WorkerExecutor {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerExecutor{
		ctx:    ctx,
		jobs:   make(chan Job, opts.QueueSize),
		wg:     &sync.WaitGroup{},
		logger: logger.Named("executor"),
		opts:   opts,
	}
}

// Enqueue adds a job to the worker queue without waiting; a full queue returns ErrQueueFull.
func (w *WorkerExecutor) Enqueue(job Job) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}

	if err := w.ctx.Err(); err != nil {
		return err
	}

	if err := job.Ctx.Err(); err != nil {
		return err
	}

	w.mtx.RLock()
	defer w.mtx.RUnlock()

	if w.stopped {
		return ErrStopped
	}

	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *WorkerExecutor) Start() {
	for i := 0; i < w.opts.WorkerCount; i++ {
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			w.spinWorker()
		}()
	}
}

// Wait for all workers to finish.
func (w *WorkerExecutor) Wait() {
	w.wg.Wait()
}

// Stop the worker queue. Queued jobs are still processed unless the executor context ends.
func (w *WorkerExecutor) Stop() {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.stopped {
		return
	}

	w.stopped = true
	close(w.jobs)
}

// spinWorker processes jobs from the queue until it is closed or the executor context ends.
func (w *WorkerExecutor) spinWorker() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}

			if err := job.Ctx.Err(); err != nil {
				w.logger.Warn("job context is done before start", zap.String("job_id", job.Id), zap.Error(err))
				w.fail(job, err)
				continue
			}

			w.processJob(job)

		case <-w.ctx.Done():
			w.logger.Info("worker context is done")
			return
		}
	}
}

// Process the job, retrying if necessary, and calling the appropriate callbacks.
func (w *WorkerExecutor) processJob(job Job) {
	retryBackOff := w.opts.RetryBackoff

	for i := 0; i <= w.opts.MaxRetries; i++ {
		err := job.JobFunc()

		if err == nil {
			w.logger.Debug("job completed", zap.String("job_id", job.Id), zap.Int("attempt", i+1))

			if job.OnSuccess != nil {
				job.OnSuccess()
			}
			return
		}

		if i == w.opts.MaxRetries {
			w.logger.Warn("job failed", zap.String("job_id", job.Id), zap.Int("attempts", i+1), zap.Error(err))
			w.fail(job, err)
			return
		}

		w.logger.Info("retrying job", zap.String("job_id", job.Id), zap.Duration("backoff", retryBackOff), zap.Error(err))

		select {
		case <-time.After(retryBackOff):
			retryBackOff *= 2
		case <-job.Ctx.Done():
			w.fail(job, job.Ctx.Err())
			return
		case <-w.ctx.Done():
			w.fail(job, w.ctx.Err())
			return
		}
	}
}

func (w *WorkerExecutor) fail(job Job, err error) {
	if job.OnError != nil {
		job.OnError(err)
	}
}
