package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/0xPuncker/batch-dispatcher/internal/cron"
	"github.com/0xPuncker/batch-dispatcher/internal/history"
	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	scheduler *cron.Scheduler
	history   *history.Recent
	logger    *logrus.Logger
}

type JobView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type TriggerView struct {
	types.TriggerSpec
	StartDelay   string     `json:"start_delay,omitempty"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
}

type TriggersResponse struct {
	Triggers []TriggerView `json:"triggers"`
	Count    int           `json:"count"`
}

type ExecutionsResponse struct {
	Executions []types.Execution `json:"executions"`
	Count      int               `json:"count"`
}

func NewHandler(scheduler *cron.Scheduler, recent *history.Recent, logger *logrus.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		history:   recent,
		logger:    logger,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"state":     h.scheduler.State().String(),
		"in_flight": h.scheduler.InFlight(),
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	defs := h.scheduler.ListJobs()
	jobs := make([]JobView, 0, len(defs))
	for _, def := range defs {
		jobs = append(jobs, JobView{Name: def.Name, Description: def.Description})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	specs := h.scheduler.ListTriggers()
	response := TriggersResponse{
		Triggers: make([]TriggerView, 0, len(specs)),
		Count:    len(specs),
	}
	for _, spec := range specs {
		response.Triggers = append(response.Triggers, h.triggerView(spec))
	}

	w.Header().Set("Cache-Control", "no-cache")
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	key := triggerKey(r)

	spec, ok := h.scheduler.GetTrigger(key)
	if !ok {
		h.handleError(w, fmt.Errorf("trigger %s not found", key), http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, h.triggerView(spec))
}

// FireTrigger runs one firing in the background through the normal firing
// protocol, so a stopped scheduler still refuses it.
func (h *Handler) FireTrigger(w http.ResponseWriter, r *http.Request) {
	key := triggerKey(r)

	if _, ok := h.scheduler.GetTrigger(key); !ok {
		h.handleError(w, fmt.Errorf("trigger %s not found", key), http.StatusNotFound)
		return
	}

	go func() {
		exec, err := h.scheduler.Fire(key)
		if err != nil {
			var notArmed *cron.TriggerNotArmedError
			if errors.As(err, &notArmed) {
				h.logger.WithField("trigger", key.String()).Warn("Manual firing of a trigger that is not armed")
				return
			}
			h.logger.WithField("trigger", key.String()).Error(err)
			return
		}
		h.logger.WithFields(logrus.Fields{
			"trigger":   key.String(),
			"firing_id": exec.ID,
			"outcome":   string(exec.Outcome),
		}).Info("Manual firing finished")
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"trigger": key.String(),
	})
}

func (h *Handler) PauseTrigger(w http.ResponseWriter, r *http.Request) {
	key := triggerKey(r)

	if err := h.scheduler.PauseTrigger(key); err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "paused",
		"trigger": key.String(),
	})
}

func (h *Handler) ResumeTrigger(w http.ResponseWriter, r *http.Request) {
	key := triggerKey(r)

	spec, ok := h.scheduler.GetTrigger(key)
	if !ok {
		h.handleError(w, fmt.Errorf("trigger %s not found", key), http.StatusNotFound)
		return
	}
	if err := h.scheduler.ResumeTrigger(key); err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, h.triggerView(spec))
}

func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	var execs []types.Execution

	group, name := r.URL.Query().Get("group"), r.URL.Query().Get("name")
	if name != "" {
		if group == "" {
			group = cron.DefaultGroup
		}
		execs = h.history.ForTrigger(types.TriggerKey{Group: group, Name: name})
	} else {
		execs = h.history.List()
	}
	if execs == nil {
		execs = []types.Execution{}
	}

	h.writeJSON(w, http.StatusOK, ExecutionsResponse{Executions: execs, Count: len(execs)})
}

func (h *Handler) triggerView(spec types.TriggerSpec) TriggerView {
	view := TriggerView{TriggerSpec: spec}
	if spec.StartDelay > 0 {
		view.StartDelay = spec.StartDelay.String()
	}
	if next := h.scheduler.Next(spec.Key()); !next.IsZero() {
		view.NextFireTime = &next
	}
	return view
}

func triggerKey(r *http.Request) types.TriggerKey {
	vars := mux.Vars(r)
	return types.TriggerKey{Group: vars["group"], Name: vars["name"]}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}
