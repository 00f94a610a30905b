// Package maintenance exposes the cron-triggered cleanup endpoint. It nulls
// out stored refresh tokens whose expiry has passed so stale credentials do
// not sit on user rows indefinitely.
package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"auth-service/internal/observability"
)

type TokenSweeper interface {
	ClearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error)
}

type CleanupHandler struct {
	sweeper    TokenSweeper
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(sweeper TokenSweeper, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Endpoint stays hidden unless a cron secret is configured.
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cleared, err := h.sweeper.ClearExpiredRefreshTokens(r.Context(), h.batchSize)
	if err != nil {
		h.logger.Error("refresh_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("refresh_token_cleanup_completed", map[string]any{
		"cleared_refresh_tokens": cleared,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"cleared_refresh_tokens": cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
