package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/usermgmt-be/internal/api/handlers"
	"github.com/isdelr/usermgmt-be/internal/auth"
	"github.com/isdelr/usermgmt-be/internal/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouterConfig holds what the router needs besides the services.
type RouterConfig struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	MaxImageBytes  int64
}

// NewRouter creates and configures a new Chi router.
func NewRouter(cfg RouterConfig, gate *auth.Gate, userService services.UserServiceProvider) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	userHandler := handlers.NewUserHandler(userService, cfg.MaxImageBytes)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Welcome to the user management API"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", userHandler.Register)
			r.Post("/login", userHandler.Login)
			r.With(gate.Require).Patch("/users/{id}/status", userHandler.ToggleStatus)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(gate.Optional).Post("/create", userHandler.Create)

			r.Group(func(r chi.Router) {
				r.Use(gate.Require)
				r.Get("/", userHandler.List)
				r.Get("/profile", userHandler.Profile)
				r.Post("/uploadprofile/{id}", userHandler.UploadProfileImage)
				r.Patch("/{id}", userHandler.Update)
				r.Delete("/{id}", userHandler.Delete)
			})
		})
	})

	return r
}
