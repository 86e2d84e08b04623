package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/sbtcoptions/internal/crypto"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type", "Authorization", HeaderRequestID,
	crypto.HeaderAPIKey, crypto.HeaderTimestamp, crypto.HeaderSignature,
}, ", ")

// CORS echoes allowed origins back so browser wallets can sign and submit
// transactions directly. An empty list or a "*" entry allows any origin.
// OPTIONS requests are answered here with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				_, ok := allowed[strings.ToLower(origin)]
				if anyOrigin || ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Expose-Headers", HeaderRequestID)
					h.Set("Access-Control-Max-Age", "86400")
					h.Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
