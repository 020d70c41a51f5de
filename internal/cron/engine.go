package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Engine is the timer wheel triggers are armed into. *cron.Cron satisfies it.
type Engine interface {
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
	Remove(id cron.EntryID)
	Entry(id cron.EntryID) cron.Entry
	Start()
	Stop() context.Context
}

func NewEngine(logger *logrus.Logger, loc *time.Location) *cron.Cron {
	if loc == nil {
		loc = time.Local
	}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cron.PrintfLogger(logger)),
	)
}
