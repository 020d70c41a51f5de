package types

import (
	"fmt"
	"time"
)

// TriggerKey identifies a trigger inside the trigger store
type TriggerKey struct {
	Group string `json:"group" yaml:"group"`
	Name  string `json:"name" yaml:"name"`
}

func (k TriggerKey) String() string {
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

// TriggerSpec binds a cron schedule to a job name and a payload
type TriggerSpec struct {
	Name           string            `json:"name" yaml:"name"`
	Group          string            `json:"group" yaml:"group"`
	CronExpression string            `json:"cron_expression" yaml:"cron"`
	StartDelay     time.Duration     `json:"start_delay" yaml:"start_delay"`
	JobName        string            `json:"job_name" yaml:"job"`
	Description    string            `json:"description,omitempty" yaml:"description"`
	Data           map[string]string `json:"data,omitempty" yaml:"data"`
}

func (t TriggerSpec) Key() TriggerKey {
	return TriggerKey{Group: t.Group, Name: t.Name}
}

// JobParameters is the payload handed to a job on every firing
type JobParameters map[string]string

const (
	ParamFiringID = "firing.id"
	ParamFiredAt  = "fired.at"
)

// JobConfig represents the job scheduler configuration
type JobConfig struct {
	SchedulerName         string `json:"scheduler_name"`
	Timezone              string `json:"timezone"`
	OverwriteExisting     bool   `json:"overwrite_existing"`
	WaitForJobsOnShutdown bool   `json:"wait_for_jobs_on_shutdown"`
	ShutdownTimeout       string `json:"shutdown_timeout"`
	OverlapPolicy         string `json:"overlap_policy"`
	TriggersFile          string `json:"triggers_file"`
}
