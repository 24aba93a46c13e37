package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/crm-assistant/pkg/utils"
)

// BearerAuth requires an Authorization bearer token. With a non-empty secret
// the token must be an HS256 JWT signed with it and not expired; without one
// any non-blank token is accepted.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				utils.RespondError(w, http.StatusUnauthorized, "missing token")
				return
			}

			token := strings.TrimSpace(header[len("Bearer "):])
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing token")
				return
			}

			if len(key) > 0 {
				_, err := parser.Parse(token, func(*jwt.Token) (any, error) {
					return key, nil
				})
				if err != nil {
					utils.RespondError(w, http.StatusUnauthorized, "invalid token")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
