package http

import (
	"context"
	"net/http"

	"github.com/deadlock-vault/internal/config"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/transport/http/handler"
	appmiddleware "github.com/deadlock-vault/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background work of the rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Nominee-Email", "X-Nominee-Share"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.Verifier != nil {
		authMw = appmiddleware.Auth(deps.Verifier)
	} else {
		authMw = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication is not configured"}` + "\n"))
			})
		}
	}

	nomineeRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.NomineeRateLimit), cfg.NomineeRateBurst)

	healthH := handler.NewHealthHandler()
	vaultH := handler.NewVaultHandler(deps.Vaults)
	nomineeH := handler.NewNomineeHandler(deps.Nominees)
	adminH := handler.NewAdminHandler(deps.Sweeper)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)

		// ── Owner routes ─────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/vault/me", vaultH.Get)
			r.Post("/vault/me", vaultH.Save)
			r.Get("/vault/me/dashboard", vaultH.Dashboard)
			r.Post("/vault/me/shares", vaultH.StoreShares)
			r.Post("/vault/me/check-in", vaultH.CheckIn)
			r.Post("/vault/me/request-unlock", vaultH.RequestUnlock)
			r.Get("/vault/me/files", vaultH.ListFiles)
			r.Post("/vault/me/files", vaultH.UploadFile)
			r.Get("/vault/me/files/{fileID}/download", vaultH.DownloadFile)
			r.Delete("/vault/me/files/{fileID}", vaultH.DeleteFile)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Post("/vault/evaluate-deadman", adminH.EvaluateDeadman)
			})
		})

		// ── Nominee routes (rate limited, credentials per request) ───────────
		r.Group(func(r chi.Router) {
			r.Use(nomineeRL.Limit)

			r.Get("/vault/{vaultID}/checkpoint", nomineeH.Checkpoint)
			r.Get("/vault/{vaultID}/approvals", nomineeH.Approvals)
			r.Post("/vault/{vaultID}/submit-share", nomineeH.SubmitShare)
			r.Get("/vault/{vaultID}/files", nomineeH.ListFiles)
			r.Get("/vault/{vaultID}/files/{fileID}/download", nomineeH.DownloadFile)
		})
	})

	return r
}
