// Package httpapi exposes the authentication core over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/AtoyanMikhail/sessionauth/internal/config"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/service"
)

const maxBodyBytes = 64 << 10

// AuthService is the part of *service.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.Session, error)
	Refresh(ctx context.Context, rawToken string, device models.DeviceMeta) (*service.Session, error)
	Logout(ctx context.Context, rawToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	ListSessions(ctx context.Context, userID, currentToken string) ([]service.SessionView, error)
}

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function, such as (*sqlx.DB).PingContext, to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Options struct {
	Cookie      config.CookieConfig
	RefreshTTL  time.Duration
	CORSOrigins []string
	// Checks are pinged by GET /health/ready, keyed by the name reported back.
	Checks map[string]Pinger
}

type Server struct {
	auth     AuthService
	opts     Options
	validate *validator.Validate
	l        logger.Logger
}

func NewServer(auth AuthService, opts Options, l logger.Logger) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{
		auth:     auth,
		opts:     opts,
		validate: v,
		l:        l,
	}
}

// Routes builds the HTTP handler with all middleware applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimit(maxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/health/ready", s.handleReady)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Get("/me", s.handleMe)
				r.Get("/sessions", s.handleSessions)
				r.Post("/change-password", s.handleChangePassword)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not found", Type: "NotFound"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "Method not allowed", Type: "MethodNotAllowed"})
	})

	return r
}
