package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// CreateExecution inserts a new execution row in pending state and returns it
// with the assigned id.
func (s *Store) CreateExecution(ctx context.Context, exec *Execution) (*Execution, error) {
	if exec == nil {
		return nil, errors.New("nil execution")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (test_case_id, device_id, owner, status, progress, message, job_handle, report_path, created_at)
		VALUES (?, ?, ?, ?, 0, '', '', '', ?)`,
		exec.TestCaseID, exec.DeviceID, exec.Owner, string(ExecutionPending), now)
	if err != nil {
		return nil, errors.Wrap(err, "insert execution")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "execution insert id")
	}
	return s.GetExecution(ctx, id)
}

// SetExecutionJobHandle stores the task-runner handle assigned at submission.
func (s *Store) SetExecutionJobHandle(ctx context.Context, id int64, handle string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET job_handle = ? WHERE id = ?`, handle, id)
	if err != nil {
		return errors.Wrap(err, "set execution job handle")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// ExecutionUpdate carries one state transition reported by the task runner
// or by a stop request. A negative Progress keeps the stored value, so a
// stop does not roll back a progress callback that landed since the caller
// last read the row.
type ExecutionUpdate struct {
	Status     ExecutionStatus
	Progress   int
	Message    string
	ReportPath string
}

// ApplyExecutionUpdate transitions an execution, enforcing terminal-state
// immutability: rows already in success/failed/stopped are left untouched and
// ErrExecutionFinished is returned. The status guard sits in the UPDATE
// itself, so a stop racing a task-runner callback yields exactly one applied
// transition.
func (s *Store) ApplyExecutionUpdate(ctx context.Context, id int64, upd ExecutionUpdate) (*Execution, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status      = ?,
			progress    = CASE WHEN ? < 0 THEN progress ELSE ? END,
			message     = CASE WHEN ? != '' THEN ? ELSE message END,
			report_path = CASE WHEN ? != '' THEN ? ELSE report_path END,
			started_at  = CASE WHEN started_at IS NULL AND ? = 'running'
			                   THEN ? ELSE started_at END,
			finished_at = CASE WHEN ? IN ('success','failed','stopped') THEN ? ELSE finished_at END
		WHERE id = ? AND status IN ('pending','running')`,
		string(upd.Status), upd.Progress, upd.Progress,
		upd.Message, upd.Message,
		upd.ReportPath, upd.ReportPath,
		string(upd.Status), now,
		string(upd.Status), now,
		id)
	if err != nil {
		return nil, errors.Wrap(err, "update execution")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "execution update rows affected")
	}
	if affected == 0 {
		if _, err := s.GetExecution(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrExecutionFinished
	}
	exec, err := s.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Status.Terminal() && exec.StartedAt != nil && exec.FinishedAt != nil {
		// duration = finished_at - started_at, computable only once both stamps exist.
		secs := exec.FinishedAt.Sub(*exec.StartedAt).Seconds()
		if _, err := s.db.ExecContext(ctx, `UPDATE executions SET duration_secs = ? WHERE id = ?`, secs, id); err != nil {
			return nil, errors.Wrap(err, "stamp execution duration")
		}
		exec.DurationSecs = &secs
	}
	return exec, nil
}

// GetExecution fetches a single execution row by id.
func (s *Store) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_case_id, device_id, owner, status, progress, message, job_handle, report_path,
		       created_at, started_at, finished_at, duration_secs
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutions returns executions for one device, or all devices when
// deviceID is empty, newest first.
func (s *Store) ListExecutions(ctx context.Context, deviceID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, test_case_id, device_id, owner, status, progress, message, job_handle, report_path,
		       created_at, started_at, finished_at, duration_secs
		FROM executions`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list executions")
	}
	defer rows.Close()

	var result []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		exec       Execution
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		duration   sql.NullFloat64
	)
	err := row.Scan(&exec.ID, &exec.TestCaseID, &exec.DeviceID, &exec.Owner, &status,
		&exec.Progress, &exec.Message, &exec.JobHandle, &exec.ReportPath,
		&exec.CreatedAt, &startedAt, &finishedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan execution")
	}
	exec.Status = ExecutionStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		exec.FinishedAt = &t
	}
	if duration.Valid {
		d := duration.Float64
		exec.DurationSecs = &d
	}
	return &exec, nil
}
