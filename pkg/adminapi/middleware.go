package adminapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// authenticate extracts the "Authorization: Bearer <token>" header and
// validates it against the token store, rejecting with 429 on rate
// limit and 401 on anything else.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			respondError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		bearer := strings.TrimPrefix(header, prefix)

		_, err := s.tokens.Validate(bearer)
		if err != nil {
			switch {
			case errors.Is(err, clustertypes.ErrOverloaded):
				respondError(w, http.StatusTooManyRequests, "rate limited", nil)
			default:
				respondError(w, http.StatusUnauthorized, "invalid token", err)
			}
			return
		}
		next(w, r)
	}
}
