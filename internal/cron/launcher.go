package cron

import (
	"context"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/google/uuid"
)

// Launcher runs a resolved job and hands back an identifier for the run.
type Launcher interface {
	Launch(ctx context.Context, job *JobDefinition, params types.JobParameters) (string, error)
}

type SimpleLauncher struct{}

func NewLauncher() *SimpleLauncher {
	return &SimpleLauncher{}
}

func (l *SimpleLauncher) Launch(ctx context.Context, job *JobDefinition, params types.JobParameters) (string, error) {
	runID := uuid.NewString()
	return runID, job.Run(ctx, params)
}
