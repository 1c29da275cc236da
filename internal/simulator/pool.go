package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// compileJob is a build request waiting for a worker
type compileJob struct {
	ctx      context.Context
	yamlPath string
	workDir  string
	result   chan error
}

// CompilePool bounds how many esphome builds run at once. Builds are
// CPU and memory heavy, so requests queue rather than run unbounded.
type CompilePool struct {
	workers   int
	jobQueue  chan *compileJob
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	toolchain Toolchain
	timeout   time.Duration
}

// NewCompilePool creates a pool with the given number of workers
func NewCompilePool(workers int, toolchain Toolchain, timeout time.Duration, logger *zap.Logger) *CompilePool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CompilePool{
		workers:   workers,
		jobQueue:  make(chan *compileJob, workers*2), // buffer for 2x workers
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		toolchain: toolchain,
		timeout:   timeout,
	}
}

// Start launches all worker goroutines
func (p *CompilePool) Start() {
	p.logger.Info("Starting compile worker pool",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.jobQueue)),
		zap.Duration("timeout", p.timeout))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels running builds and waits for the workers to exit
func (p *CompilePool) Stop() {
	p.logger.Info("Stopping compile worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Compile worker pool stopped")
}

// Compile queues a build and waits for its outcome
func (p *CompilePool) Compile(ctx context.Context, yamlPath, workDir string) error {
	job := &compileJob{
		ctx:      ctx,
		yamlPath: yamlPath,
		workDir:  workDir,
		result:   make(chan error, 1),
	}

	select {
	case p.jobQueue <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("compile pool is shutting down")
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("compile pool is shutting down")
	}
}

func (p *CompilePool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Compile worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-p.jobQueue:
			p.processJob(id, job)
		case <-p.ctx.Done():
			p.logger.Debug("Compile worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

func (p *CompilePool) processJob(workerID int, job *compileJob) {
	if err := job.ctx.Err(); err != nil {
		job.result <- err
		return
	}

	ctx, cancel := context.WithTimeout(job.ctx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	p.logger.Debug("Worker compiling simulator config",
		zap.Int("worker_id", workerID),
		zap.String("yaml_path", job.yamlPath))

	started := time.Now()
	err := p.toolchain.Compile(ctx, job.yamlPath, job.workDir)
	if errors.Is(err, context.DeadlineExceeded) && job.ctx.Err() == nil {
		err = &CompileError{Timeout: p.timeout}
	}
	job.result <- err

	p.logger.Debug("Worker finished compile",
		zap.Int("worker_id", workerID),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err))
}
