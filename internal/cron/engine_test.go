package cron

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/robfig/cron/v3"
)

// manualEngine is an Engine driven by Advance instead of the wall clock.
type manualEngine struct {
	mu      sync.Mutex
	now     time.Time
	nextID  cron.EntryID
	entries map[cron.EntryID]*manualEntry
	started bool
	events  *eventLog
}

type manualEntry struct {
	id       cron.EntryID
	schedule cron.Schedule
	job      cron.Job
	next     time.Time
}

func newManualEngine(now time.Time) *manualEngine {
	return &manualEngine{
		now:     now,
		entries: make(map[cron.EntryID]*manualEntry),
		events:  &eventLog{},
	}
}

func (e *manualEngine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *manualEngine) Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.entries[e.nextID] = &manualEntry{
		id:       e.nextID,
		schedule: schedule,
		job:      cmd,
		next:     schedule.Next(e.now),
	}
	return e.nextID
}

func (e *manualEngine) Remove(id cron.EntryID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, id)
}

func (e *manualEngine) Entry(id cron.EntryID) cron.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[id]
	if !ok {
		return cron.Entry{}
	}
	return cron.Entry{ID: entry.id, Schedule: entry.schedule, Next: entry.next, Job: entry.job}
}

func (e *manualEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *manualEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	e.events.add("engine.start")
}

func (e *manualEngine) Stop() context.Context {
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	e.events.add("engine.stop")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Advance moves the clock forward by d and runs every entry that comes due,
// in fire time order, on the calling goroutine.
func (e *manualEngine) Advance(d time.Duration) {
	e.mu.Lock()
	target := e.now.Add(d)
	e.mu.Unlock()

	for {
		e.mu.Lock()
		due := e.dueLocked(target)
		if due == nil {
			e.now = target
			e.mu.Unlock()
			return
		}
		e.now = due.next
		due.next = due.schedule.Next(e.now)
		job, started := due.job, e.started
		e.mu.Unlock()

		if started {
			job.Run()
		}
	}
}

func (e *manualEngine) dueLocked(target time.Time) *manualEntry {
	var due []*manualEntry
	for _, entry := range e.entries {
		if !entry.next.IsZero() && !entry.next.After(target) {
			due = append(due, entry)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// recordingObserver keeps every finished execution.
type recordingObserver struct {
	mu       sync.Mutex
	started  []types.Execution
	finished []types.Execution
}

func (o *recordingObserver) ExecutionStarted(exec types.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, exec)
}

func (o *recordingObserver) ExecutionFinished(exec types.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, exec)
}

func (o *recordingObserver) Finished() []types.Execution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.Execution(nil), o.finished...)
}

func (o *recordingObserver) Outcomes() []types.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcomes := make([]types.Outcome, 0, len(o.finished))
	for _, exec := range o.finished {
		outcomes = append(outcomes, exec.Outcome)
	}
	return outcomes
}
