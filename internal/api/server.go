// Package api exposes the admin surface: module registration and
// introspection, workflow management, scheduler control, and the websocket
// mount point.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/modulab/foreman/internal/hub"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/services"
)

type Server struct {
	registry  *services.RegistryService
	scheduler *services.SchedulerService
	workflows repository.WorkflowRepository
	hub       *hub.Hub
}

func NewServer(
	registry *services.RegistryService,
	scheduler *services.SchedulerService,
	workflows repository.WorkflowRepository,
	h *hub.Hub,
) *Server {
	return &Server{
		registry:  registry,
		scheduler: scheduler,
		workflows: workflows,
		hub:       h,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/module", func(r chi.Router) {
		r.Get("/register", s.registerModule)
		r.Get("/online", s.listOnlineModules)
		r.Post("/send_message", s.sendMessage)
		r.Post("/close_websocket", s.closeWebsocket)
	})
	r.Route("/workflow", func(r chi.Router) {
		r.Post("/create", s.createWorkflow)
		r.Post("/{workflow_id}/execute", s.executeWorkflow)
		r.Get("/list", s.listWorkflows)
	})
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/jobs", s.listJobs)
		r.Post("/reload", s.reloadScheduler)
	})
	r.Get("/hub/groups", s.listGroups)
	r.Get("/websocket", s.hub.ServeWS)

	return r
}
