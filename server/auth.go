package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"troubadour/middleware/ratelimit"

	"go.uber.org/zap"
)

type userKey struct{}

// requireUser exige o X-User-Id preenchido pelo proxy de autenticação e
// garante que o usuário exista no banco.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return s.identify(s.ensureUser(next))
}

// identify só lê o header; não toca no banco.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ratelimit.UserHeader))
		if id == "" || id == ratelimit.Anonymous {
			writeError(w, http.StatusUnauthorized, "missing "+ratelimit.UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func (s *Server) ensureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := userFrom(r.Context())
		if err := s.store.EnsureUser(r.Context(), id); err != nil {
			s.logger.Error("ensure user failed", zap.String("user", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// requireAdmin protege as rotas internas com Authorization: Bearer <token>.
// Sem token configurado as rotas ficam fechadas.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin routes disabled: ADMIN_TOKEN not set")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.adminToken)) != 1 {
			s.logger.Warn("admin request rejected",
				zap.String("route", r.Pattern),
				zap.String("remote", r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="troubadour-admin"`)
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
