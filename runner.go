package devicehub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// JobHandle identifies one submitted job for later revocation.
type JobHandle string

// JobSpec is the unit handed to a task runner: an execution id for logging
// plus the body to run. The body receives a context that is cancelled when
// the job is revoked.
type JobSpec struct {
	ExecutionID int64
	Run         func(ctx context.Context)
}

// TaskRunner is the async job execution boundary: submit a job, revoke it
// by handle. Job bodies report outcomes back through the orchestrator's
// ReportProgress, never through return values.
type TaskRunner interface {
	Submit(spec JobSpec) (JobHandle, error)
	Revoke(handle JobHandle, force bool) error
}

// LocalTaskRunner runs jobs on a bounded worker pool inside this process.
type LocalTaskRunner struct {
	queue chan localJob
	wg    sync.WaitGroup

	mu     sync.Mutex
	active map[JobHandle]context.CancelFunc
	closed bool
}

type localJob struct {
	handle JobHandle
	ctx    context.Context
	spec   JobSpec
}

const defaultQueueDepth = 64

// NewLocalTaskRunner starts workers goroutines consuming the job queue.
func NewLocalTaskRunner(workers int) *LocalTaskRunner {
	if workers <= 0 {
		workers = 4
	}
	r := &LocalTaskRunner{
		queue:  make(chan localJob, defaultQueueDepth),
		active: make(map[JobHandle]context.CancelFunc),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *LocalTaskRunner) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		// Revoked before pickup: skip the body entirely.
		if job.ctx.Err() == nil {
			r.runJob(job)
		}
		r.release(job.handle)
	}
}

func (r *LocalTaskRunner) runJob(job localJob) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Int64("execution_id", job.spec.ExecutionID).
				Str("job_handle", string(job.handle)).
				Msg("job body panicked")
		}
	}()
	job.spec.Run(job.ctx)
}

// Submit queues a job and returns its handle.
func (r *LocalTaskRunner) Submit(spec JobSpec) (JobHandle, error) {
	if spec.Run == nil {
		return "", errors.New("job spec missing body")
	}
	handle := JobHandle(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", errors.New("task runner is closed")
	}
	r.active[handle] = cancel
	r.mu.Unlock()

	select {
	case r.queue <- localJob{handle: handle, ctx: ctx, spec: spec}:
	default:
		r.release(handle)
		return "", errors.New("task runner queue is full")
	}
	log.Debug().Str("job_handle", string(handle)).Int64("execution_id", spec.ExecutionID).Msg("job submitted")
	return handle, nil
}

// Revoke cancels the job's context. Fire-and-forget: the body may keep
// running until it observes cancellation; unknown handles are a no-op.
func (r *LocalTaskRunner) Revoke(handle JobHandle, force bool) error {
	r.mu.Lock()
	cancel, ok := r.active[handle]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	log.Debug().Str("job_handle", string(handle)).Bool("force", force).Msg("job revoked")
	return nil
}

func (r *LocalTaskRunner) release(handle JobHandle) {
	r.mu.Lock()
	if cancel, ok := r.active[handle]; ok {
		delete(r.active, handle)
		r.mu.Unlock()
		cancel()
		return
	}
	r.mu.Unlock()
}

// Close stops accepting jobs and waits for queued work to drain.
func (r *LocalTaskRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.queue)
	r.wg.Wait()
}
