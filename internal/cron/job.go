package cron

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/sirupsen/logrus"
)

// Scheduler wires the registry, trigger store, dispatcher and coordinator
// around one engine and one shared State.
type Scheduler struct {
	logger      *logrus.Logger
	config      types.JobConfig
	registry    *Registry
	triggers    *TriggerStore
	dispatcher  *Dispatcher
	coordinator *Coordinator
	state       *State
}

func NewScheduler(logger *logrus.Logger, config types.JobConfig) (*Scheduler, error) {
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}
	return NewSchedulerWithEngine(logger, config, NewEngine(logger, loc))
}

// NewSchedulerWithEngine lets tests drive the scheduler with their own clock.
func NewSchedulerWithEngine(logger *logrus.Logger, config types.JobConfig, engine Engine) (*Scheduler, error) {
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	policy, err := ParseOverlapPolicy(config.OverlapPolicy)
	if err != nil {
		return nil, err
	}

	var maxWait time.Duration
	if config.ShutdownTimeout != "" {
		maxWait, err = time.ParseDuration(config.ShutdownTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}

	state := NewState()
	registry := NewRegistry()

	return &Scheduler{
		logger:   logger,
		config:   config,
		registry: registry,
		state:    state,
		triggers: NewTriggerStore(NewParser(loc), logger, config.OverwriteExisting),
		dispatcher: NewDispatcher(engine, registry, state, logger).
			WithOverlapPolicy(policy).
			WithName(config.SchedulerName),
		coordinator: NewCoordinator(engine, state, logger, config.WaitForJobsOnShutdown, maxWait),
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func (s *Scheduler) WithRepository(repo TriggerRepository) *Scheduler {
	s.triggers.WithRepository(repo)
	return s
}

func (s *Scheduler) WithObserver(o Observer) *Scheduler {
	s.dispatcher.WithObserver(o)
	return s
}

func (s *Scheduler) WithLauncher(l Launcher) *Scheduler {
	s.dispatcher.WithLauncher(l)
	return s
}

func (s *Scheduler) RegisterJob(name, description string, run JobFunc) error {
	if err := s.registry.Register(name, JobDefinition{Description: description, Run: run}); err != nil {
		return err
	}
	s.logger.WithField("job_name", name).Info("Job registered")
	return nil
}

// ReplaceJob swaps the job behind name. Armed triggers use it from their next firing.
func (s *Scheduler) ReplaceJob(name, description string, run JobFunc) error {
	if err := s.registry.Replace(name, JobDefinition{Description: description, Run: run}); err != nil {
		return err
	}
	s.logger.WithField("job_name", name).Info("Job replaced")
	return nil
}

// Restore loads persisted triggers and arms them.
func (s *Scheduler) Restore(ctx context.Context) error {
	if err := s.triggers.Restore(ctx); err != nil {
		return err
	}
	return s.triggers.ArmAll(s.dispatcher)
}

// LoadPredefinedJobs loads trigger definitions and arms every stored trigger.
// Incoming triggers whose job is not registered yet are armed anyway, with a warning.
func (s *Scheduler) LoadPredefinedJobs(ctx context.Context, specs []types.TriggerSpec) error {
	if err := s.triggers.Load(ctx, specs); err != nil {
		return err
	}

	for _, spec := range specs {
		if _, err := s.registry.Resolve(spec.JobName); err != nil {
			if spec.Group == "" {
				spec.Group = DefaultGroup
			}
			s.logger.WithFields(logrus.Fields{
				"trigger":  spec.Key().String(),
				"job_name": spec.JobName,
			}).Warn("Trigger targets a job that is not registered yet")
		}
	}

	return s.triggers.ArmAll(s.dispatcher)
}

// PauseTrigger removes the trigger's schedule from the engine. The definition
// stays loaded, so ResumeTrigger or the next trigger reload arms it again.
func (s *Scheduler) PauseTrigger(key types.TriggerKey) error {
	if !s.dispatcher.disarm(key) {
		return &TriggerNotArmedError{Key: key}
	}
	s.logger.WithField("trigger", key.String()).Info("Trigger paused")
	return nil
}

func (s *Scheduler) ResumeTrigger(key types.TriggerKey) error {
	return s.triggers.Arm(key, s.dispatcher)
}

func (s *Scheduler) Start() error {
	return s.coordinator.Start()
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.coordinator.Stop(ctx)
}

// Own hands a resource to the scheduler; it is closed after the engine stops.
func (s *Scheduler) Own(name string, r io.Closer) {
	s.coordinator.Own(name, r)
}

func (s *Scheduler) IsRunning() bool {
	return s.state.Phase() == types.StateRunning
}

func (s *Scheduler) State() types.SchedulerState {
	return s.state.Phase()
}

func (s *Scheduler) Phase() Phase {
	return s.coordinator.Phase()
}

func (s *Scheduler) InFlight() int {
	return s.state.InFlight()
}

func (s *Scheduler) ListJobs() []JobDefinition {
	return s.registry.List()
}

func (s *Scheduler) ListTriggers() []types.TriggerSpec {
	return s.triggers.List()
}

func (s *Scheduler) GetTrigger(key types.TriggerKey) (types.TriggerSpec, bool) {
	return s.triggers.Get(key)
}

func (s *Scheduler) Fire(key types.TriggerKey) (types.Execution, error) {
	return s.dispatcher.Fire(key)
}

func (s *Scheduler) Next(key types.TriggerKey) time.Time {
	return s.dispatcher.Next(key)
}

func (s *Scheduler) Name() string {
	return s.config.SchedulerName
}
