package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/0xPuncker/batch-dispatcher/pkg/utils"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type OverlapPolicy string

const (
	OverlapSkip       OverlapPolicy = "skip"
	OverlapConcurrent OverlapPolicy = "concurrent"
)

func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(s) {
	case "", OverlapSkip:
		return OverlapSkip, nil
	case OverlapConcurrent:
		return OverlapConcurrent, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", s)
	}
}

// Observer receives every execution the dispatcher records, skipped firings included.
// Implementations must not block the firing for long.
type Observer interface {
	ExecutionStarted(exec types.Execution)
	ExecutionFinished(exec types.Execution)
}

type armedTrigger struct {
	trigger    *Trigger
	id         cron.EntryID
	generation uint64
	armedAt    time.Time
}

// Dispatcher owns the engine entries for armed triggers and runs the firing
// protocol: state gate, overlap policy, late-bound job lookup, launch, record.
type Dispatcher struct {
	engine    Engine
	registry  *Registry
	state     *State
	launcher  Launcher
	logger    *logrus.Logger
	policy    OverlapPolicy
	name      string
	observers []Observer
	clock     func() time.Time

	mu         sync.Mutex
	entries    map[types.TriggerKey]*armedTrigger
	running    map[types.TriggerKey]int
	generation uint64
}

func NewDispatcher(engine Engine, registry *Registry, state *State, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		registry: registry,
		state:    state,
		launcher: NewLauncher(),
		logger:   logger,
		policy:   OverlapSkip,
		clock:    time.Now,
		entries:  make(map[types.TriggerKey]*armedTrigger),
		running:  make(map[types.TriggerKey]int),
	}
}

func (d *Dispatcher) WithLauncher(l Launcher) *Dispatcher {
	d.launcher = l
	return d
}

func (d *Dispatcher) WithOverlapPolicy(p OverlapPolicy) *Dispatcher {
	d.policy = p
	return d
}

func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observers = append(d.observers, o)
	return d
}

func (d *Dispatcher) WithName(name string) *Dispatcher {
	d.name = name
	return d
}

// arm schedules t, replacing any previous entry for the same key. The generation
// bump makes a superseded entry inert even if the engine fires it once more.
// The start delay counts from the first arming; re-arming with the same delay
// keeps the original window.
func (d *Dispatcher) arm(t *Trigger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := t.Spec.Key()
	armedAt := d.clock()
	if prev, ok := d.entries[key]; ok {
		d.engine.Remove(prev.id)
		if prev.trigger.Spec.StartDelay == t.Spec.StartDelay {
			armedAt = prev.armedAt
		}
	}

	d.generation++
	gen := d.generation
	sched := withStartDelay(t.Schedule, armedAt, t.Spec.StartDelay)

	entry := &armedTrigger{trigger: t, generation: gen, armedAt: armedAt}
	entry.id = d.engine.Schedule(sched, cron.FuncJob(func() {
		d.fire(key, gen)
	}))
	d.entries[key] = entry

	d.logger.WithFields(logrus.Fields{
		"trigger":     key.String(),
		"job_name":    t.Spec.JobName,
		"schedule":    t.Spec.CronExpression,
		"start_delay": t.Spec.StartDelay.String(),
	}).Info("Trigger armed")
}

func (d *Dispatcher) disarm(key types.TriggerKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	if !ok {
		return false
	}
	d.engine.Remove(entry.id)
	delete(d.entries, key)
	return true
}

func (d *Dispatcher) Armed() []types.TriggerKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]types.TriggerKey, 0, len(d.entries))
	for key := range d.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Next returns the next scheduled fire time, or zero if unknown.
func (d *Dispatcher) Next(key types.TriggerKey) time.Time {
	d.mu.Lock()
	entry, ok := d.entries[key]
	d.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return d.engine.Entry(entry.id).Next
}

// Fire runs one firing of key right now. Job failures are reported in the
// returned execution, never as an error.
func (d *Dispatcher) Fire(key types.TriggerKey) (types.Execution, error) {
	d.mu.Lock()
	entry, ok := d.entries[key]
	d.mu.Unlock()
	if !ok {
		return types.Execution{}, &TriggerNotArmedError{Key: key}
	}
	return d.execute(entry.trigger), nil
}

func (d *Dispatcher) fire(key types.TriggerKey, gen uint64) {
	d.mu.Lock()
	entry, ok := d.entries[key]
	d.mu.Unlock()

	if !ok || entry.generation != gen {
		d.logger.WithField("trigger", key.String()).Debug("Ignoring firing of a superseded schedule")
		return
	}
	d.execute(entry.trigger)
}

func (d *Dispatcher) execute(t *Trigger) (exec types.Execution) {
	key := t.Spec.Key()
	exec = types.Execution{
		ID:      uuid.NewString(),
		Trigger: key,
		JobName: t.Spec.JobName,
		FiredAt: d.clock(),
	}

	// Nothing below may escape into the engine.
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"trigger": key.String(),
				"panic":   fmt.Sprint(r),
			}).Error("Recovered panic in trigger firing")
		}
	}()

	if !d.state.acquire() {
		return d.skip(exec, types.SkipNotRunning)
	}
	defer d.state.release()

	if !d.enter(key) {
		return d.skip(exec, types.SkipOverlap)
	}
	defer d.leave(key)

	exec.StartedAt = d.clock()
	fields := logrus.Fields{
		"job_name":  exec.JobName,
		"trigger":   key.String(),
		"firing_id": exec.ID,
	}
	if d.name != "" {
		fields["scheduler"] = d.name
	}
	d.logger.WithFields(fields).Info("Starting job execution")
	d.notifyStarted(exec)

	runID, err := d.run(t, exec)
	exec.RunID = runID
	exec.FinishedAt = d.clock()
	exec.Duration = exec.FinishedAt.Sub(exec.StartedAt)

	if err != nil {
		exec.Outcome = types.OutcomeFailed
		exec.Error = err.Error()
		d.logger.WithFields(fields).WithFields(logrus.Fields{
			"run_id":   runID,
			"error":    err.Error(),
			"duration": utils.FormatDuration(exec.Duration),
		}).Error("Job execution failed")
	} else {
		exec.Outcome = types.OutcomeSucceeded
		d.logger.WithFields(fields).WithFields(logrus.Fields{
			"run_id":   runID,
			"duration": utils.FormatDuration(exec.Duration),
		}).Infof("%s_%s was completed successfully", exec.JobName, runID)
	}

	d.notifyFinished(exec)
	return exec
}

// run resolves the job by name on every call and converts panics into errors.
func (d *Dispatcher) run(t *Trigger, exec types.Execution) (runID string, err error) {
	job, err := d.registry.Resolve(t.Spec.JobName)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			err = &JobExecutionError{
				JobName: job.Name,
				RunID:   runID,
				Err:     fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	runID, err = d.launcher.Launch(context.Background(), job, d.parameters(t, exec))
	if err != nil {
		return runID, &JobExecutionError{JobName: job.Name, RunID: runID, Err: err}
	}
	return runID, nil
}

// parameters builds a fresh payload per firing so two firings never look alike.
func (d *Dispatcher) parameters(t *Trigger, exec types.Execution) types.JobParameters {
	params := make(types.JobParameters, len(t.Spec.Data)+2)
	for k, v := range t.Spec.Data {
		params[k] = v
	}
	params[types.ParamFiringID] = exec.ID
	params[types.ParamFiredAt] = exec.FiredAt.Format(time.RFC3339Nano)
	return params
}

func (d *Dispatcher) enter(key types.TriggerKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.policy == OverlapSkip && d.running[key] > 0 {
		return false
	}
	d.running[key]++
	return true
}

func (d *Dispatcher) leave(key types.TriggerKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.running[key]--
	if d.running[key] <= 0 {
		delete(d.running, key)
	}
}

func (d *Dispatcher) skip(exec types.Execution, reason string) types.Execution {
	exec.Outcome = types.OutcomeSkipped
	exec.SkipReason = reason

	entry := d.logger.WithFields(logrus.Fields{
		"job_name": exec.JobName,
		"trigger":  exec.Trigger.String(),
		"reason":   reason,
	})
	if reason == types.SkipOverlap {
		entry.Warn("Previous firing still running, skipping trigger firing")
	} else {
		entry.Info("Scheduler not running, skipping trigger firing")
	}

	d.notifyFinished(exec)
	return exec
}

func (d *Dispatcher) notifyStarted(exec types.Execution) {
	for _, o := range d.observers {
		d.observe(exec, "started", o.ExecutionStarted)
	}
}

func (d *Dispatcher) notifyFinished(exec types.Execution) {
	for _, o := range d.observers {
		d.observe(exec, "finished", o.ExecutionFinished)
	}
}

// observe isolates one observer call; a panic is logged and the next observer still runs.
func (d *Dispatcher) observe(exec types.Execution, event string, fn func(types.Execution)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"trigger":   exec.Trigger.String(),
				"firing_id": exec.ID,
				"event":     event,
				"panic":     fmt.Sprint(r),
			}).Error("Recovered panic in execution observer")
		}
	}()
	fn(exec)
}
