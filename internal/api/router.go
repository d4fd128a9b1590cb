package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskforge/pipeline-api/internal/api/middleware"
	"github.com/taskforge/pipeline-api/internal/auth"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/service"
)

// RouterConfig bundles the dependencies of the HTTP router.
type RouterConfig struct {
	Pipeline service.PipelineService
	Queue    queue.Queue
	Verifier auth.Verifier
	DB       Pinger

	// Hub serves the websocket upgrade route.
	Hub http.Handler

	// AllowUnauthenticated skips bearer auth on the task routes.
	// Development convenience, mirrors the hub's bypass flag.
	AllowUnauthenticated bool
}

// NewRouter builds the chi router for the pipeline server.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", NewHealthHandler(cfg.DB).Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeHTTP)
	}

	taskHandler := NewTaskHandler(cfg.Pipeline)
	queueHandler := NewQueueHandler(cfg.Queue)

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue/status", queueHandler.Status)

		r.Group(func(r chi.Router) {
			if !cfg.AllowUnauthenticated {
				r.Use(middleware.NewAuthMiddleware(cfg.Verifier).Authenticate)
			}
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Post("/tasks/{id}/process", taskHandler.ProcessTask)
		})
	})

	return r
}
