package api

import (
	"net/http"

	"storyforge/internal/middleware"

	"github.com/gorilla/mux"
)

// NewRouter wires all REST routes, the websocket endpoint and the shared
// middleware chain.
func NewRouter(h *Handlers, ws http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/ws", ws).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/users/{id}", h.GetUser).Methods("GET")

	api.HandleFunc("/projects", h.CreateProject).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	api.HandleFunc("/projects/{id}", h.UpdateProject).Methods("PATCH")
	api.HandleFunc("/projects/{id}", h.DeleteProject).Methods("DELETE")

	api.HandleFunc("/projects/{id}/scenes", h.CreateScene).Methods("POST")
	api.HandleFunc("/projects/{id}/scenes", h.ListScenes).Methods("GET")
	api.HandleFunc("/projects/{id}/scenes/reorder", h.ReorderScenes).Methods("POST")
	api.HandleFunc("/scenes/{id}", h.GetScene).Methods("GET")
	api.HandleFunc("/scenes/{id}", h.UpdateScene).Methods("PATCH")
	api.HandleFunc("/scenes/{id}", h.DeleteScene).Methods("DELETE")

	api.HandleFunc("/projects/{id}/objects", h.CreateObject).Methods("POST")
	api.HandleFunc("/projects/{id}/objects", h.ListObjects).Methods("GET")
	api.HandleFunc("/objects/{id}", h.UpdateObject).Methods("PATCH")
	api.HandleFunc("/objects/{id}", h.DeleteObject).Methods("DELETE")

	api.HandleFunc("/critics", h.ListCritics).Methods("GET")
	api.HandleFunc("/analyses", h.ListAnalyses).Methods("GET")
	api.HandleFunc("/analyses/{id}", h.GetAnalysis).Methods("GET")
	api.HandleFunc("/analyze", h.RequestAnalysis).Methods("POST")

	return r
}
