package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/0xPuncker/batch-dispatcher/pkg/utils"
	"github.com/sirupsen/logrus"
)

type Phase string

const (
	PhaseIdle     Phase = "Idle"
	PhaseRunning  Phase = "Running"
	PhaseDraining Phase = "Draining"
	PhaseStopped  Phase = "Stopped"
)

type ownedResource struct {
	name   string
	closer io.Closer
}

// Coordinator is the only writer of State. Stop drains in-flight executions,
// stops the engine and only then closes the resources it owns.
type Coordinator struct {
	engine      Engine
	state       *State
	logger      *logrus.Logger
	waitForJobs bool
	maxWait     time.Duration

	mu        sync.Mutex
	phase     Phase
	resources []ownedResource
	done      chan struct{}
}

// NewCoordinator builds a coordinator. maxWait <= 0 means wait for as long as ctx allows.
func NewCoordinator(engine Engine, state *State, logger *logrus.Logger, waitForJobs bool, maxWait time.Duration) *Coordinator {
	return &Coordinator{
		engine:      engine,
		state:       state,
		logger:      logger,
		waitForJobs: waitForJobs,
		maxWait:     maxWait,
		phase:       PhaseIdle,
	}
}

// Own registers a resource to close after the engine has stopped.
// Resources are closed in reverse registration order.
func (c *Coordinator) Own(name string, r io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = append(c.resources, ownedResource{name: name, closer: r})
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseRunning:
		return fmt.Errorf("scheduler already started")
	case PhaseDraining, PhaseStopped:
		return fmt.Errorf("scheduler has been shut down")
	}

	c.state.set(types.StateStarting)
	c.engine.Start()
	c.state.set(types.StateRunning)
	c.phase = PhaseRunning
	c.done = make(chan struct{})

	c.logger.WithField("phase", string(PhaseRunning)).Info("Scheduler started...")
	return nil
}

// Stop is idempotent. A second caller waits for the first shutdown to finish
// or for its own ctx, whichever comes first.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	switch c.phase {
	case PhaseIdle:
		c.phase = PhaseStopped
		c.mu.Unlock()
		c.release()
		return
	case PhaseStopped:
		c.mu.Unlock()
		return
	case PhaseDraining:
		done := c.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	c.phase = PhaseDraining
	done := c.done
	c.mu.Unlock()

	defer close(done)

	c.state.set(types.StateStopping)
	c.logger.WithFields(logrus.Fields{
		"phase":     string(PhaseDraining),
		"in_flight": c.state.InFlight(),
	}).Info("Scheduler stopping, no new firings accepted")

	drained := c.drain(ctx)

	engineCtx := c.engine.Stop()
	if drained {
		select {
		case <-engineCtx.Done():
		case <-ctx.Done():
		}
	}
	c.logger.WithField("phase", string(PhaseDraining)).Info("Scheduling engine stopped")

	c.release()

	c.state.set(types.StateStopped)
	c.mu.Lock()
	c.phase = PhaseStopped
	c.mu.Unlock()

	c.logger.WithField("phase", string(PhaseStopped)).Info("Scheduler stopped")
}

// drain reports whether every in-flight execution finished.
func (c *Coordinator) drain(ctx context.Context) bool {
	if !c.waitForJobs {
		if n := c.state.InFlight(); n > 0 {
			c.logger.WithField("in_flight", n).Warn("Not waiting for running jobs to complete")
			return false
		}
		return true
	}

	waitCtx := ctx
	if c.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}

	start := time.Now()
	if err := c.state.WaitIdle(waitCtx); err != nil {
		warning := &ShutdownTimeoutWarning{
			Outstanding: c.state.InFlight(),
			Waited:      time.Since(start),
		}
		c.logger.WithFields(logrus.Fields{
			"in_flight": warning.Outstanding,
			"waited":    utils.FormatDuration(warning.Waited),
		}).Warn(warning.Error())
		return false
	}

	c.logger.WithField("waited", utils.FormatDuration(time.Since(start))).Info("All running jobs completed")
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	resources := c.resources
	c.resources = nil
	c.mu.Unlock()

	for i := len(resources) - 1; i >= 0; i-- {
		res := resources[i]
		if err := closeResource(res.closer); err != nil {
			c.logger.WithFields(logrus.Fields{
				"resource": res.name,
				"error":    err.Error(),
			}).Error("Failed to release resource")
			continue
		}
		c.logger.WithField("resource", res.name).Info("Resource released")
	}
}

// closeResource turns a panicking Close into an error so the remaining
// resources are still released.
func closeResource(r io.Closer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(fmt.Sprint("panic during close: ", p))
		}
	}()
	return r.Close()
}
