package history

import (
	"sort"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/patrickmn/go-cache"
)

const (
	DefaultRetention = 30 * time.Minute
	cleanupInterval  = time.Minute
)

// Recent keeps finished executions in memory for a while so the admin API can
// show them. Nothing is persisted.
type Recent struct {
	cache *cache.Cache
	limit int
}

func NewRecent(retention time.Duration, limit int) *Recent {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recent{
		cache: cache.New(retention, cleanupInterval),
		limit: limit,
	}
}

func (r *Recent) ExecutionStarted(types.Execution) {}

func (r *Recent) ExecutionFinished(exec types.Execution) {
	if exec.ID == "" {
		return
	}
	r.cache.Set(exec.ID, exec, cache.DefaultExpiration)
}

func (r *Recent) Get(id string) (types.Execution, bool) {
	v, found := r.cache.Get(id)
	if !found {
		return types.Execution{}, false
	}
	return v.(types.Execution), true
}

// List returns the newest executions first, capped at the configured limit.
func (r *Recent) List() []types.Execution {
	items := r.cache.Items()
	execs := make([]types.Execution, 0, len(items))
	for _, item := range items {
		if exec, ok := item.Object.(types.Execution); ok {
			execs = append(execs, exec)
		}
	}

	sort.Slice(execs, func(i, j int) bool {
		return execs[i].FiredAt.After(execs[j].FiredAt)
	})

	if r.limit > 0 && len(execs) > r.limit {
		execs = execs[:r.limit]
	}
	return execs
}

// ForTrigger filters List by trigger key.
func (r *Recent) ForTrigger(key types.TriggerKey) []types.Execution {
	var out []types.Execution
	for _, exec := range r.List() {
		if exec.Trigger == key {
			out = append(out, exec)
		}
	}
	return out
}
