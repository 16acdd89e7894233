package api

import (
	"net/http"
	"strings"

	"github.com/vrsandeep/repokeep/internal/auth"
)

// AuthMiddleware requires a bearer token matching api.token_hash. An empty
// hash disables authentication. Websocket clients that cannot set headers
// may pass the token as the "token" query parameter.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.app.Config().API.TokenHash
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: No token")
			return
		}
		if !s.tokenValid(token, hash) {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenValid(token, hash string) bool {
	if cached, ok := s.verified.Load(token); ok && cached.(string) == hash {
		return true
	}
	if !auth.CheckToken(token, hash) {
		return false
	}
	s.verified.Store(token, hash)
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.URL.Query().Get("token")
}
