package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultGroup = "DEFAULT"

// Trigger is a validated spec together with its parsed schedule.
type Trigger struct {
	Spec     types.TriggerSpec
	Schedule cron.Schedule
}

// TriggerRepository persists trigger definitions across restarts.
type TriggerRepository interface {
	LoadTriggers(ctx context.Context) ([]types.TriggerSpec, error)
	SaveTriggers(ctx context.Context, specs []types.TriggerSpec, overwrite bool) error
}

type TriggerStore struct {
	parser    *Parser
	logger    *logrus.Logger
	repo      TriggerRepository
	overwrite bool

	loadMu   sync.Mutex // serializes Load
	mu       sync.RWMutex
	triggers map[types.TriggerKey]*Trigger
}

func NewTriggerStore(parser *Parser, logger *logrus.Logger, overwrite bool) *TriggerStore {
	return &TriggerStore{
		parser:    parser,
		logger:    logger,
		overwrite: overwrite,
		triggers:  make(map[types.TriggerKey]*Trigger),
	}
}

func (s *TriggerStore) WithRepository(repo TriggerRepository) *TriggerStore {
	s.repo = repo
	return s
}

// Load validates and persists the whole batch before touching the store. Any
// failure leaves the previous triggers untouched.
func (s *TriggerStore) Load(ctx context.Context, specs []types.TriggerSpec) error {
	parsed, err := s.validate(specs)
	if err != nil {
		return err
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	accepted := s.accept(parsed)
	if len(accepted) == 0 {
		return nil
	}

	if s.repo != nil {
		rows := make([]types.TriggerSpec, 0, len(accepted))
		for _, t := range accepted {
			rows = append(rows, t.Spec)
		}
		if err := s.repo.SaveTriggers(ctx, rows, s.overwrite); err != nil {
			return fmt.Errorf("failed to persist triggers: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range accepted {
		s.triggers[t.Spec.Key()] = t
	}
	return nil
}

// Restore loads persisted triggers into the store. Rows that no longer parse are
// reported as startup errors like any other malformed schedule.
func (s *TriggerStore) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	specs, err := s.repo.LoadTriggers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted triggers: %w", err)
	}

	parsed, err := s.validate(specs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range parsed {
		s.triggers[t.Spec.Key()] = t
	}

	s.logger.WithField("count", len(parsed)).Info("Restored persisted triggers")
	return nil
}

func (s *TriggerStore) validate(specs []types.TriggerSpec) ([]*Trigger, error) {
	seen := make(map[types.TriggerKey]bool, len(specs))
	parsed := make([]*Trigger, 0, len(specs))

	for _, spec := range specs {
		if spec.Group == "" {
			spec.Group = DefaultGroup
		}
		key := spec.Key()

		if spec.Name == "" {
			return nil, fmt.Errorf("trigger in group %s has no name", spec.Group)
		}
		if spec.JobName == "" {
			return nil, fmt.Errorf("trigger %s has no target job", key)
		}
		if spec.StartDelay < 0 {
			return nil, fmt.Errorf("trigger %s has a negative start delay", key)
		}
		if seen[key] {
			return nil, &DuplicateTriggerError{Key: key}
		}
		seen[key] = true

		sched, err := s.parser.Parse(spec.CronExpression)
		if err != nil {
			return nil, &InvalidScheduleError{Trigger: key, Expression: spec.CronExpression, Err: err}
		}

		spec.Data = copyData(spec.Data)
		parsed = append(parsed, &Trigger{Spec: spec, Schedule: sched})
	}
	return parsed, nil
}

// accept filters parsed down to the triggers the overwrite policy lets in.
func (s *TriggerStore) accept(parsed []*Trigger) []*Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accepted := make([]*Trigger, 0, len(parsed))
	for _, t := range parsed {
		key := t.Spec.Key()
		if _, exists := s.triggers[key]; exists && !s.overwrite {
			s.logger.WithField("trigger", key.String()).Info("Trigger already exists, keeping existing definition")
			continue
		}
		accepted = append(accepted, t)
	}
	return accepted
}

// Arm schedules the stored trigger into the dispatcher, replacing any earlier schedule.
func (s *TriggerStore) Arm(key types.TriggerKey, d *Dispatcher) error {
	s.mu.RLock()
	t, ok := s.triggers[key]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("trigger %s not loaded", key)
	}
	d.arm(t)
	return nil
}

func (s *TriggerStore) ArmAll(d *Dispatcher) error {
	for _, spec := range s.List() {
		if err := s.Arm(spec.Key(), d); err != nil {
			return err
		}
	}
	return nil
}

func (s *TriggerStore) Get(key types.TriggerKey) (types.TriggerSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[key]
	if !ok {
		return types.TriggerSpec{}, false
	}
	return t.Spec, true
}

func (s *TriggerStore) List() []types.TriggerSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	specs := make([]types.TriggerSpec, 0, len(s.triggers))
	for _, t := range s.triggers {
		specs = append(specs, t.Spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Key().String() < specs[j].Key().String()
	})
	return specs
}

func (s *TriggerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.triggers)
}

func copyData(data map[string]string) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
