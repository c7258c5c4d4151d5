package devicehub

import (
	"context"

	"github.com/httprunner/devicehub/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// JobExecutor runs the actual test steps for one execution. The concrete
// engine is pluggable; the orchestrator only cares that it reports progress
// through the supplied callback and returns a terminal outcome. A non-empty
// report path points at the directory holding the run's report files.
type JobExecutor interface {
	Execute(ctx context.Context, execution *Execution, report ReportFunc) (reportPath string, err error)
}

// ReportFunc pushes intermediate progress (0-100) from a running job.
type ReportFunc func(progress int, message string)

// SubmitRequest names the test case, target device and submitting user for
// one execution.
type SubmitRequest struct {
	TestCaseID string `json:"test_case_id"`
	DeviceID   string `json:"device_id"`
	Owner      string `json:"owner"`
}

// Orchestrator creates execution records, hands jobs to the task runner and
// guards the execution state machine:
//
//	pending -> running -> {success, failed, stopped}
//	pending -> stopped (cancel before pickup)
//
// Terminal states are immutable; a stale callback racing a stop loses and is
// dropped.
type Orchestrator struct {
	store       *storage.Store
	runner      TaskRunner
	executor    JobExecutor
	broadcaster *Broadcaster
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(store *storage.Store, runner TaskRunner, executor JobExecutor, broadcaster *Broadcaster) *Orchestrator {
	return &Orchestrator{
		store:       store,
		runner:      runner,
		executor:    executor,
		broadcaster: broadcaster,
	}
}

// Submit creates a pending execution for the request and schedules its job.
// Admission fails synchronously when the device is unknown, offline, or
// locked by a different user. Anything failing after this point surfaces
// only through the execution's status, never back to the submitter.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Execution, error) {
	dev, err := o.store.GetDevice(ctx, req.DeviceID)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	switch dev.Status {
	case DeviceStatusOffline:
		return nil, ErrDeviceOffline
	case DeviceStatusLocked:
		if dev.LockedBy != req.Owner {
			return nil, ErrDeviceLocked
		}
	}

	execution, err := o.store.CreateExecution(ctx, &Execution{
		TestCaseID: req.TestCaseID,
		DeviceID:   req.DeviceID,
		Owner:      req.Owner,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create execution")
	}

	handle, err := o.runner.Submit(JobSpec{
		ExecutionID: execution.ID,
		Run: func(jobCtx context.Context) {
			o.runExecution(jobCtx, execution.ID)
		},
	})
	if err != nil {
		// Could not even schedule: the record is dead on arrival.
		o.ReportProgress(ctx, execution.ID, ExecutionFailed, 0, "job submission failed: "+err.Error(), "")
		return nil, errors.Wrap(err, "submit job")
	}
	if err := o.store.SetExecutionJobHandle(ctx, execution.ID, string(handle)); err != nil {
		log.Error().Err(err).Int64("execution_id", execution.ID).Msg("store job handle failed")
	}
	execution.JobHandle = string(handle)
	log.Info().
		Int64("execution_id", execution.ID).
		Str("device_id", req.DeviceID).
		Str("test_case_id", req.TestCaseID).
		Str("job_handle", string(handle)).
		Msg("execution submitted")
	return execution, nil
}

// runExecution is the job body handed to the task runner. All outcomes flow
// through ReportProgress so the terminal-state guard is the single point of
// truth, including against a concurrent stop.
func (o *Orchestrator) runExecution(ctx context.Context, executionID int64) {
	if ctx.Err() != nil {
		// Revoked before pickup; the stop path already owns the terminal state.
		return
	}
	if err := o.ReportProgress(ctx, executionID, ExecutionRunning, 0, "", ""); err != nil {
		log.Debug().Err(err).Int64("execution_id", executionID).Msg("execution not startable, skipping job")
		return
	}
	execution, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		log.Error().Err(err).Int64("execution_id", executionID).Msg("load execution for job failed")
		return
	}

	lastProgress := 0
	report := func(progress int, message string) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		lastProgress = progress
		if err := o.ReportProgress(ctx, executionID, ExecutionRunning, progress, message, ""); err != nil {
			log.Debug().Err(err).Int64("execution_id", executionID).Msg("progress update dropped")
		}
	}

	reportPath, runErr := o.executor.Execute(ctx, execution, report)
	if ctx.Err() != nil {
		// Revoked mid-run: stopped was already stamped by Stop.
		return
	}
	if runErr != nil {
		if err := o.ReportProgress(context.Background(), executionID, ExecutionFailed, lastProgress, runErr.Error(), reportPath); err != nil {
			log.Debug().Err(err).Int64("execution_id", executionID).Msg("failure report dropped")
		}
		return
	}
	if err := o.ReportProgress(context.Background(), executionID, ExecutionSuccess, 100, "", reportPath); err != nil {
		log.Debug().Err(err).Int64("execution_id", executionID).Msg("success report dropped")
	}
}

// Stop cancels a pending or running execution: revokes the job best-effort,
// stamps the record stopped and broadcasts the transition. Executions
// already in a terminal state fail with ErrInvalidState.
func (o *Orchestrator) Stop(ctx context.Context, executionID int64) (*Execution, error) {
	execution, err := o.store.GetExecution(ctx, executionID)
	if errors.Is(err, storage.ErrExecutionNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	if execution.Status.Terminal() {
		return nil, ErrInvalidState
	}
	if execution.JobHandle != "" {
		if err := o.runner.Revoke(JobHandle(execution.JobHandle), true); err != nil {
			// Best-effort signal; the terminal-state guard below is the safety net.
			log.Warn().Err(err).Int64("execution_id", executionID).Msg("job revoke failed")
		}
	}
	// Progress -1 keeps whatever the job reported last, including a callback
	// that landed after the read above.
	updated, err := o.store.ApplyExecutionUpdate(ctx, executionID, storage.ExecutionUpdate{
		Status:   ExecutionStopped,
		Progress: -1,
		Message:  "stopped by user",
	})
	if errors.Is(err, storage.ErrExecutionFinished) {
		// Lost the race with the job's own terminal report.
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	o.publish(updated)
	log.Info().Int64("execution_id", executionID).Msg("execution stopped")
	return updated, nil
}

// ReportProgress applies one state transition reported by a job body (or an
// internal failure path) and broadcasts it. Updates against a terminal
// execution are logged and dropped, keeping the first terminal transition
// authoritative. Idempotent against stop/callback races.
func (o *Orchestrator) ReportProgress(ctx context.Context, executionID int64, status ExecutionStatus, progress int, message, reportPath string) error {
	updated, err := o.store.ApplyExecutionUpdate(ctx, executionID, storage.ExecutionUpdate{
		Status:     status,
		Progress:   progress,
		Message:    message,
		ReportPath: reportPath,
	})
	if errors.Is(err, storage.ErrExecutionFinished) {
		log.Info().
			Int64("execution_id", executionID).
			Str("reported_status", string(status)).
			Msg("stale progress report against terminal execution dropped")
		return ErrInvalidState
	}
	if errors.Is(err, storage.ErrExecutionNotFound) {
		return ErrExecutionNotFound
	}
	if err != nil {
		return err
	}
	o.publish(updated)
	return nil
}

// Get returns one execution record.
func (o *Orchestrator) Get(ctx context.Context, executionID int64) (*Execution, error) {
	execution, err := o.store.GetExecution(ctx, executionID)
	if errors.Is(err, storage.ErrExecutionNotFound) {
		return nil, ErrExecutionNotFound
	}
	return execution, err
}

// List returns recent executions, optionally filtered by device.
func (o *Orchestrator) List(ctx context.Context, deviceID string, limit int) ([]*Execution, error) {
	return o.store.ListExecutions(ctx, deviceID, limit)
}

func (o *Orchestrator) publish(execution *Execution) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Publish(execution.ID, Event{
		ExecutionID: execution.ID,
		Status:      execution.Status,
		Progress:    execution.Progress,
		Message:     execution.Message,
		ReportPath:  execution.ReportPath,
	})
}
