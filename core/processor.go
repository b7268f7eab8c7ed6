package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-storage/config"
	apperrors "github.com/Skryldev/image-storage/errors"
)

// Processor is a fixed-size worker pool that runs CPU-bound pipelines off
// the caller's goroutine.  It is safe for concurrent use.
type Processor struct {
	workerCount int
	jobTimeout  time.Duration

	jobQueue chan job
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
	mu       sync.RWMutex // guards closed against in-flight enqueues
	closed   bool
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

type job struct {
	ctx      context.Context //nolint:containedctx // carried to the worker
	runner   PipelineRunner
	img      *ImageData
	resultCh chan<- jobResult
}

type jobResult struct {
	result *ProcessingResult
	err    error
}

// New creates a Processor sized from cfg.  Workers start lazily on the first
// Process call, or explicitly with Start.
func New(cfg config.Config) *Processor {
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		workerCount: workerCount,
		jobTimeout:  cfg.JobTimeout,
		jobQueue:    make(chan job, queueSize),
		shutdown:    make(chan struct{}),
	}
}

// Workers returns the pool size.
func (p *Processor) Workers() int { return p.workerCount }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.start.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers.  Jobs still queued fail with ErrPoolClosed.
func (p *Processor) Stop() {
	p.stop.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.shutdown)
		p.mu.Unlock()
		p.Start() // so queued jobs are always answered
		p.wg.Wait()
	})
}

// Process runs runner on img inside the pool and waits for the outcome.  It
// blocks while the queue is full; ctx bounds both the wait for a worker and
// the wait for the result.
func (p *Processor) Process(ctx context.Context, runner PipelineRunner, img *ImageData) (*ProcessingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "process", err)
	}
	p.Start()

	resultCh := make(chan jobResult, 1)
	if err := p.enqueue(ctx, job{ctx: ctx, runner: runner, img: img, resultCh: resultCh}); err != nil {
		return nil, err
	}

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "process.wait", ctx.Err())
	}
}

func (p *Processor) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return apperrors.New(apperrors.CategoryInternal, "process.submit", apperrors.ErrPoolClosed)
	}
	select {
	case p.jobQueue <- j:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CategoryPipeline, "process.submit", ctx.Err())
	}
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			p.drain()
			return
		case j := <-p.jobQueue:
			p.processJob(j)
		}
	}
}

func (p *Processor) drain() {
	for {
		select {
		case j := <-p.jobQueue:
			j.resultCh <- jobResult{err: apperrors.New(apperrors.CategoryInternal, "process", apperrors.ErrPoolClosed)}
		default:
			return
		}
	}
}

func (p *Processor) processJob(j job) {
	ctx := j.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	img, timings, err := p.run(ctx, j.runner, j.img)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		j.resultCh <- jobResult{err: err}
		return
	}
	atomic.AddInt64(&p.processedCount, 1)
	j.resultCh <- jobResult{result: &ProcessingResult{
		Primary:        img,
		ProcessingTime: time.Since(start),
		StepTimings:    timings,
	}}
}

// run shields the pool from panics raised inside codec bindings.
func (p *Processor) run(ctx context.Context, runner PipelineRunner, img *ImageData) (out *ImageData, timings map[string]time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.CategoryInternal, "process.run", fmt.Errorf("panic: %v", r))
		}
	}()
	return runner.Run(ctx, img)
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
