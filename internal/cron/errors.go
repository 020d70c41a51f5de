package cron

import (
	"fmt"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
)

type DuplicateJobError struct {
	Name string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %s already registered", e.Name)
}

type JobNotFoundError struct {
	Name string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not registered", e.Name)
}

type InvalidScheduleError struct {
	Trigger    types.TriggerKey
	Expression string
	Err        error
}

func (e *InvalidScheduleError) Error() string {
	if e.Trigger == (types.TriggerKey{}) {
		return fmt.Sprintf("invalid cron expression %q: %v", e.Expression, e.Err)
	}
	return fmt.Sprintf("trigger %s: invalid cron expression %q: %v", e.Trigger, e.Expression, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error {
	return e.Err
}

type DuplicateTriggerError struct {
	Key types.TriggerKey
}

func (e *DuplicateTriggerError) Error() string {
	return fmt.Sprintf("trigger %s defined more than once", e.Key)
}

// JobExecutionError wraps anything a job returned or panicked with
type JobExecutionError struct {
	JobName string
	RunID   string
	Err     error
}

func (e *JobExecutionError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("job %s failed: %v", e.JobName, e.Err)
	}
	return fmt.Sprintf("job %s (run %s) failed: %v", e.JobName, e.RunID, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

type TriggerNotArmedError struct {
	Key types.TriggerKey
}

func (e *TriggerNotArmedError) Error() string {
	return fmt.Sprintf("trigger %s is not armed", e.Key)
}

// ShutdownTimeoutWarning is logged when the drain gives up; it never fails a shutdown.
type ShutdownTimeoutWarning struct {
	Outstanding int
	Waited      time.Duration
}

func (w *ShutdownTimeoutWarning) Error() string {
	return fmt.Sprintf("%d executions still running after waiting %s", w.Outstanding, w.Waited)
}
