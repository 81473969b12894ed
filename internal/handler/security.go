package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/lifecycle"
)

// authenticate requires a valid bearer token and stores its identity in the
// request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			h.fail(w, r, errUnauthorized)
			return
		}
		id, err := h.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected token", zap.Error(err))
			h.fail(w, r, errUnauthorized)
			return
		}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("subject", id.Subject)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.FromContext(r.Context()); !ok || !id.IsAdmin() {
			ae := classify(lifecycle.ErrForbidden)
			writeError(w, ae.status, ae.message, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identity returns the caller set by authenticate.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
