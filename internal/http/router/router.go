package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/http/handler"
	"tabletop-session-service/internal/http/middleware"
	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/security"
)

type Dependencies struct {
	SessionHandler  *handler.SessionHandler
	RealtimeHandler *handler.RealtimeHandler
	Verifier        *security.Verifier
	CORSOrigins     []string
	APIRateLimitRPM int
	EnableOTelHTTP  bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(dep.Verifier))

		r.Get("/sessions", dep.SessionHandler.List)
		r.Get("/sessions/{id}", dep.SessionHandler.Get)
		r.With(middleware.RequireRole(domain.RoleMaster)).Post("/sessions", dep.SessionHandler.Create)

		r.Get("/stream", dep.RealtimeHandler.Stream)
		r.Post("/commands", dep.RealtimeHandler.Command)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
