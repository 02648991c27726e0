package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/auth"
)

// APIKeyHeader carries the back-office API key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey authenticates the request's API key and checks that it
// grants scope before calling next.
func (h *Handler) RequireAPIKey(scope string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info, err := h.auth.Authenticate(ctx, r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !info.HasScope(scope) {
			zctx.From(ctx).Info("API key lacks scope",
				zap.String("key_id", info.ID),
				zap.String("scope", scope),
			)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r.WithContext(auth.WithKey(ctx, info)))
	})
}
