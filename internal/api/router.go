// Package api is the HTTP surface of the custody service.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/transfer"
)

// Deps wires the router.
type Deps struct {
	DB        *sql.DB
	Transfers *transfer.Service
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *zap.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("api")

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret, TokenTTL: d.TokenTTL, Log: log}
	usersHandler := &UsersHandler{DB: d.DB, Log: log}
	branchesHandler := &BranchesHandler{DB: d.DB, Log: log}
	assetsHandler := &AssetsHandler{DB: d.DB, Log: log}
	transfersHandler := &TransfersHandler{Service: d.Transfers, Log: log}

	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.PingContext(r.Context()); err != nil {
			writeError(w, log, err)
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public: login.
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.JWTSecret, d.DB))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			r.Route("/transfer-orders", func(r chi.Router) {
				r.Get("/", transfersHandler.List)
				r.Post("/", transfersHandler.Create)
				r.Post("/validate", transfersHandler.Validate)
				r.Get("/pending-serials", transfersHandler.PendingSerials)
				r.Get("/{id}", transfersHandler.Get)
				r.Post("/{id}/receive", transfersHandler.Receive)
				r.Post("/{id}/reject", transfersHandler.Reject)
				r.Post("/{id}/cancel", transfersHandler.Cancel)
			})

			// Branches: read (all roles), write (manager+).
			r.Get("/branches", branchesHandler.List)
			r.Get("/branches/{id}", branchesHandler.Get)
			r.With(requireManager).Post("/branches", branchesHandler.Create)
			r.With(requireManager).Put("/branches/{id}/active", branchesHandler.SetActive)

			for path, kind := range map[string]model.AssetKind{"/machines": model.AssetKindMachine, "/sims": model.AssetKindSIM} {
				r.Get(path, assetsHandler.List(kind))
				r.Get(path+"/{serial}", assetsHandler.Get(kind))
				r.With(requireManager).Post(path, assetsHandler.Create(kind))
				r.With(requireManager).Put(path+"/{serial}/status", assetsHandler.SetStatus(kind))
			}

			r.Get("/spare-parts/stock", assetsHandler.ListStock)
			r.With(requireManager).Post("/spare-parts/stock", assetsHandler.AddStock)

			// Users (admin only).
			r.Route("/users", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/", usersHandler.List)
				r.Post("/", usersHandler.Create)
				r.Get("/{id}", usersHandler.Get)
				r.Delete("/{id}", usersHandler.Delete)
			})
		})
	})

	return r
}
