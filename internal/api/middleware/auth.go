package middleware

import (
	"net/http"
	"strings"

	"scalper/pkg/crypto"
)

// TokenAuth - middleware авторизации управляющих endpoints
//
// Сравнивает Bearer токен из Authorization с bcrypt-хешем из
// конфигурации (API_TOKEN_HASH). Пустой хеш отключает авторизацию
// полностью - режим разработки.
//
// Управляющие endpoints (деактивация emergency stop, выключение пар)
// меняют поведение торговли, читающие endpoints авторизации не требуют.
func TokenAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="control"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.TokenMatches(token, tokenHash) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
