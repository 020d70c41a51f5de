package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.March, 1, 10, 0, 30, 0, time.UTC)

type dispatcherFixture struct {
	engine   *manualEngine
	registry *Registry
	state    *State
	store    *TriggerStore
	observer *recordingObserver
	d        *Dispatcher
	hook     *test.Hook
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	engine := newManualEngine(t0)
	engine.Start()

	state := NewState()
	state.set(types.StateRunning)

	registry := NewRegistry()
	observer := &recordingObserver{}
	d := NewDispatcher(engine, registry, state, logger).WithObserver(observer)
	d.clock = engine.Now

	return &dispatcherFixture{
		engine:   engine,
		registry: registry,
		state:    state,
		store:    NewTriggerStore(NewParser(time.UTC), logger, true),
		observer: observer,
		d:        d,
		hook:     hook,
	}
}

func (f *dispatcherFixture) arm(t *testing.T, spec types.TriggerSpec) types.TriggerKey {
	t.Helper()
	require.NoError(t, f.store.Load(context.Background(), []types.TriggerSpec{spec}))
	if spec.Group == "" {
		spec.Group = DefaultGroup
	}
	require.NoError(t, f.store.Arm(spec.Key(), f.d))
	return spec.Key()
}

func everyMinute(name, job string) types.TriggerSpec {
	return types.TriggerSpec{
		Name:           name,
		Group:          "cron_group",
		CronExpression: "0 * * 1/1 * ? *",
		JobName:        job,
	}
}

func TestDispatcherFiresOncePerScheduledTime(t *testing.T) {
	f := newDispatcherFixture(t)

	var calls int32
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))
	f.arm(t, everyMinute("counter", "count"))

	f.engine.Advance(30 * time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	f.engine.Advance(59 * time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	f.engine.Advance(time.Second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDispatcherMissingJobIsIsolated(t *testing.T) {
	f := newDispatcherFixture(t)
	key := f.arm(t, everyMinute("orphan", "notYetRegistered"))

	f.engine.Advance(time.Minute)

	finished := f.observer.Finished()
	require.Len(t, finished, 1)
	assert.Equal(t, types.OutcomeFailed, finished[0].Outcome)
	assert.Contains(t, finished[0].Error, "not registered")
	assert.Equal(t, types.StateRunning, f.state.Phase())
	assert.Equal(t, []types.TriggerKey{key}, f.d.Armed())

	// Resolution is retried on the next firing.
	require.NoError(t, f.registry.Register("notYetRegistered", JobDefinition{Run: noop}))
	f.engine.Advance(time.Minute)

	assert.Equal(t, []types.Outcome{types.OutcomeFailed, types.OutcomeSucceeded}, f.observer.Outcomes())
}

func TestDispatcherFailingJobsDoNotAffectOthers(t *testing.T) {
	f := newDispatcherFixture(t)

	boom := errors.New("boom")
	require.NoError(t, f.registry.Register("failing", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		return boom
	}}))
	require.NoError(t, f.registry.Register("panicking", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		panic("unexpected")
	}}))
	require.NoError(t, f.registry.Register("healthy", JobDefinition{Run: noop}))

	failing := f.arm(t, everyMinute("failing", "failing"))
	panicking := f.arm(t, everyMinute("panicking", "panicking"))
	healthy := f.arm(t, everyMinute("healthy", "healthy"))

	exec, err := f.d.Fire(failing)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, exec.Outcome)
	assert.Contains(t, exec.Error, "boom")
	assert.NotEmpty(t, exec.RunID)

	var execErr *JobExecutionError
	_, runErr := f.d.run(f.d.entries[failing].trigger, exec)
	require.True(t, errors.As(runErr, &execErr))
	assert.ErrorIs(t, runErr, boom)

	assert.NotPanics(t, func() {
		exec, err = f.d.Fire(panicking)
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, exec.Outcome)
	assert.Contains(t, exec.Error, "panic: unexpected")

	exec, err = f.d.Fire(healthy)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, exec.Outcome)

	// All three still fire from the engine afterwards.
	f.engine.Advance(time.Minute)
	finished := f.observer.Finished()
	require.Len(t, finished, 6)
	assert.Equal(t, 0, f.state.InFlight())
}

func TestDispatcherSkipsOverlappingFiring(t *testing.T) {
	f := newDispatcherFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	require.NoError(t, f.registry.Register("slow", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}))
	key := f.arm(t, everyMinute("slow", "slow"))

	first := make(chan types.Execution, 1)
	go func() {
		exec, _ := f.d.Fire(key)
		first <- exec
	}()
	<-started

	second, err := f.d.Fire(key)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSkipped, second.Outcome)
	assert.Equal(t, types.SkipOverlap, second.SkipReason)

	close(release)
	assert.Equal(t, types.OutcomeSucceeded, (<-first).Outcome)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	var warned bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["reason"] == types.SkipOverlap {
			warned = true
		}
	}
	assert.True(t, warned, "overlap skip should be logged as a warning")

	// The trigger is free again once the first firing is recorded.
	exec, err := f.d.Fire(key)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, exec.Outcome)
}

func TestDispatcherConcurrentPolicy(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.WithOverlapPolicy(OverlapConcurrent)

	var running sync.WaitGroup
	running.Add(2)
	release := make(chan struct{})
	require.NoError(t, f.registry.Register("slow", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		running.Done()
		<-release
		return nil
	}}))
	key := f.arm(t, everyMinute("slow", "slow"))

	results := make(chan types.Execution, 2)
	for i := 0; i < 2; i++ {
		go func() {
			exec, _ := f.d.Fire(key)
			results <- exec
		}()
	}

	running.Wait()
	assert.Equal(t, 2, f.state.InFlight())
	close(release)

	assert.Equal(t, types.OutcomeSucceeded, (<-results).Outcome)
	assert.Equal(t, types.OutcomeSucceeded, (<-results).Outcome)
}

func TestDispatcherLateBinding(t *testing.T) {
	f := newDispatcherFixture(t)

	var ran []string
	var mu sync.Mutex
	record := func(version string) JobFunc {
		return func(context.Context, types.JobParameters) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, version)
			return nil
		}
	}

	require.NoError(t, f.registry.Register("importUserJob", JobDefinition{Run: record("v1")}))
	f.arm(t, everyMinute("cron_trigger", "importUserJob"))

	f.engine.Advance(time.Minute)
	require.NoError(t, f.registry.Replace("importUserJob", JobDefinition{Run: record("v2")}))
	f.engine.Advance(time.Minute)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"v1", "v2"}, ran)
}

func TestDispatcherFreshParametersPerFiring(t *testing.T) {
	f := newDispatcherFixture(t)

	var seen []types.JobParameters
	require.NoError(t, f.registry.Register("echo", JobDefinition{Run: func(_ context.Context, params types.JobParameters) error {
		seen = append(seen, params)
		return nil
	}}))

	spec := everyMinute("echo", "echo")
	spec.Data = map[string]string{"source": "people.csv"}
	key := f.arm(t, spec)

	_, err := f.d.Fire(key)
	require.NoError(t, err)
	_, err = f.d.Fire(key)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "people.csv", seen[0]["source"])
	assert.Equal(t, "people.csv", seen[1]["source"])
	assert.NotEmpty(t, seen[0][types.ParamFiringID])
	assert.NotEqual(t, seen[0][types.ParamFiringID], seen[1][types.ParamFiringID])
	assert.NotEmpty(t, seen[0][types.ParamFiredAt])

	// Jobs mutating their parameters never leak into the trigger payload.
	seen[0]["source"] = "changed"
	spec2, ok := f.store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "people.csv", spec2.Data["source"])
}

func TestDispatcherRejectsFiringsWhenNotRunning(t *testing.T) {
	f := newDispatcherFixture(t)

	var calls int32
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))
	key := f.arm(t, everyMinute("counter", "count"))

	f.state.set(types.StateStopping)

	exec, err := f.d.Fire(key)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSkipped, exec.Outcome)
	assert.Equal(t, types.SkipNotRunning, exec.SkipReason)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, f.state.InFlight())
}

func TestDispatcherRearmReplacesSchedule(t *testing.T) {
	f := newDispatcherFixture(t)

	var calls int32
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))
	key := f.arm(t, everyMinute("counter", "count"))
	oldJob := f.engine.Entry(f.d.entries[key].id).Job

	require.NoError(t, f.store.Arm(key, f.d))
	assert.Equal(t, 1, f.engine.Len())

	// A superseded entry that still fires is ignored.
	oldJob.Run()
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	f.engine.Advance(time.Minute)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	assert.Equal(t, time.Date(2026, time.March, 1, 10, 2, 0, 0, time.UTC), f.d.Next(key))

	assert.True(t, f.d.disarm(key))
	assert.False(t, f.d.disarm(key))
	assert.Equal(t, 0, f.engine.Len())
	assert.True(t, f.d.Next(key).IsZero())
}

func TestDispatcherRearmKeepsStartDelayWindow(t *testing.T) {
	f := newDispatcherFixture(t)

	var calls int32
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))

	spec := everyMinute("delayed", "count")
	spec.StartDelay = 3 * time.Second
	key := f.arm(t, spec)

	// 10:02:58, two seconds before the next fire time.
	f.engine.Advance(2*time.Minute + 28*time.Second)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))

	// A reload of the unchanged trigger must not open a fresh delay window.
	require.NoError(t, f.store.Load(context.Background(), []types.TriggerSpec{spec}))
	require.NoError(t, f.store.Arm(key, f.d))
	assert.Equal(t, time.Date(2026, time.March, 1, 10, 3, 0, 0, time.UTC), f.d.Next(key))

	f.engine.Advance(3 * time.Second)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDispatcherRearmWithNewStartDelay(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: noop}))

	spec := everyMinute("delayed", "count")
	spec.StartDelay = 3 * time.Second
	key := f.arm(t, spec)

	f.engine.Advance(2*time.Minute + 28*time.Second)

	spec.StartDelay = 10 * time.Second
	f.arm(t, spec)
	assert.Equal(t, time.Date(2026, time.March, 1, 10, 4, 0, 0, time.UTC), f.d.Next(key))
}

func TestDispatcherStartDelay(t *testing.T) {
	f := newDispatcherFixture(t)

	var calls int32
	require.NoError(t, f.registry.Register("count", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))

	spec := everyMinute("delayed", "count")
	spec.StartDelay = 45 * time.Second
	f.arm(t, spec)

	// 10:01:00 falls inside the delay window.
	f.engine.Advance(time.Minute)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	f.engine.Advance(time.Minute)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDispatcherFireUnknownTrigger(t *testing.T) {
	f := newDispatcherFixture(t)

	_, err := f.d.Fire(types.TriggerKey{Group: "g", Name: "missing"})
	var notArmed *TriggerNotArmedError
	require.True(t, errors.As(err, &notArmed))
	assert.Equal(t, "g.missing", notArmed.Key.String())
}

type panickingObserver struct{ onStart bool }

func (o panickingObserver) ExecutionStarted(types.Execution) {
	if o.onStart {
		panic("observer")
	}
}

func (o panickingObserver) ExecutionFinished(types.Execution) {
	if !o.onStart {
		panic("observer")
	}
}

func TestDispatcherObserverPanicIsContained(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.WithObserver(panickingObserver{})

	require.NoError(t, f.registry.Register("healthy", JobDefinition{Run: noop}))
	key := f.arm(t, everyMinute("healthy", "healthy"))

	assert.NotPanics(t, func() {
		f.engine.Advance(time.Minute)
		_, _ = f.d.Fire(key)
	})
	assert.Equal(t, 0, f.state.InFlight())
}

func TestDispatcherStartedObserverPanicDoesNotBlockJob(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.observers = append([]Observer{panickingObserver{onStart: true}}, f.d.observers...)

	var calls int32
	require.NoError(t, f.registry.Register("healthy", JobDefinition{Run: func(context.Context, types.JobParameters) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))
	key := f.arm(t, everyMinute("healthy", "healthy"))

	exec, err := f.d.Fire(key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, types.OutcomeSucceeded, exec.Outcome)
	assert.Equal(t, []types.Outcome{types.OutcomeSucceeded}, f.observer.Outcomes())
	assert.Equal(t, 0, f.state.InFlight())

	var logged bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == "Recovered panic in execution observer" && entry.Data["event"] == "started" {
			logged = true
		}
	}
	assert.True(t, logged)
}
