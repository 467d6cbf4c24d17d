package handler

import (
	"net/http"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler returns a health check endpoint.
func HealthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := infra.HealthCheck(r.Context(), pool); err != nil {
			RespondError(w, domain.ErrInternal("database unreachable", err))
			return
		}
		RespondOK(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
