package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
)

type JobFunc func(ctx context.Context, params types.JobParameters) error

// JobDefinition is immutable once registered
type JobDefinition struct {
	Name        string
	Description string
	Run         JobFunc
}

// Registry maps job names to definitions. Triggers reference jobs by name only,
// so a lookup happens on every firing.
type Registry struct {
	jobs map[string]*JobDefinition
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*JobDefinition),
	}
}

// Register adds a job and rejects names that are already taken.
func (r *Registry) Register(name string, def JobDefinition) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if def.Run == nil {
		return fmt.Errorf("job %s has no run function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return &DuplicateJobError{Name: name}
	}
	def.Name = name
	r.jobs[name] = &def
	return nil
}

// Replace installs def under name whether or not it exists (last writer wins).
func (r *Registry) Replace(name string, def JobDefinition) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if def.Run == nil {
		return fmt.Errorf("job %s has no run function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def.Name = name
	r.jobs[name] = &def
	return nil
}

func (r *Registry) Resolve(name string) (*JobDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.jobs[name]
	if !exists {
		return nil, &JobNotFoundError{Name: name}
	}
	return def, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) List() []JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]JobDefinition, 0, len(r.jobs))
	for _, def := range r.jobs {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}
