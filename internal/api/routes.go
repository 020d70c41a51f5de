package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupRoutes(router *mux.Router, handler *Handler, metrics http.Handler) {
	router.HandleFunc("/api/v1/health", handler.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/jobs", handler.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/triggers", handler.ListTriggers).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/triggers/{group}/{name}", handler.GetTrigger).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/triggers/{group}/{name}/fire", handler.FireTrigger).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/triggers/{group}/{name}/pause", handler.PauseTrigger).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/triggers/{group}/{name}/resume", handler.ResumeTrigger).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/executions", handler.ListExecutions).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
}
