package devicehub

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExecutorFunc adapts a plain function to the JobExecutor interface.
type ExecutorFunc func(ctx context.Context, execution *Execution, report ReportFunc) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, execution *Execution, report ReportFunc) (string, error) {
	return f(ctx, execution, report)
}

// CommandExecutor delegates test-step execution to an external runner
// command, passing the execution context through environment variables.
// The runner owns the actual device interaction; devicehub only tracks its
// outcome: exit zero is success, anything else is failure.
type CommandExecutor struct {
	// Command is the runner executable. Args are passed verbatim.
	Command string
	Args    []string
	// ReportRoot is where per-execution report directories are created.
	ReportRoot string
}

// Execute runs the external command for one execution. The runner receives
// DEVICEHUB_EXECUTION_ID, DEVICEHUB_DEVICE_ID, DEVICEHUB_TEST_CASE_ID and
// DEVICEHUB_REPORT_DIR in its environment.
func (e *CommandExecutor) Execute(ctx context.Context, execution *Execution, report ReportFunc) (string, error) {
	if e.Command == "" {
		return "", errors.New("no runner command configured")
	}
	reportDir := ""
	if e.ReportRoot != "" {
		reportDir = filepath.Join(e.ReportRoot, strconv.FormatInt(execution.ID, 10))
		if err := os.MkdirAll(reportDir, 0o755); err != nil {
			return "", errors.Wrap(err, "create report directory")
		}
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Env = append(os.Environ(),
		"DEVICEHUB_EXECUTION_ID="+strconv.FormatInt(execution.ID, 10),
		"DEVICEHUB_DEVICE_ID="+execution.DeviceID,
		"DEVICEHUB_TEST_CASE_ID="+execution.TestCaseID,
		"DEVICEHUB_REPORT_DIR="+reportDir,
	)
	log.Info().
		Int64("execution_id", execution.ID).
		Str("command", e.Command).
		Str("device_id", execution.DeviceID).
		Msg("runner command starting")
	report(0, "runner started")

	if err := cmd.Run(); err != nil {
		return reportDir, errors.Wrapf(err, "runner command %q", e.Command)
	}
	return reportDir, nil
}
