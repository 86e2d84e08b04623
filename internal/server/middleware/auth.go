package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/crypto"
)

// maxSignedBody bounds the body buffered for HMAC verification.
const maxSignedBody = 1 << 20

// AuthConfig configures request authentication. With both fields empty the
// middleware is a no-op.
type AuthConfig struct {
	APIKey     string
	HMACSecret string
	// MaxSkew bounds the age of signed timestamps. Defaults to 30s.
	MaxSkew time.Duration
	// Public lists exact paths served without credentials.
	Public []string
}

// Auth returns middleware that accepts either an HMAC-signed request
// (X-API-Key, X-Timestamp, X-Signature) or a static API key as a Bearer
// token or X-API-Key header. When only HMACSecret is set, signed requests
// are the only way in.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	skew := cfg.MaxSkew
	if skew <= 0 {
		skew = 30 * time.Second
	}
	var signer *crypto.HMACAuth
	if cfg.HMACSecret != "" {
		signer = &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.HMACSecret}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" && signer == nil {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range cfg.Public {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			if sig := r.Header.Get(crypto.HeaderSignature); sig != "" && signer != nil {
				if cfg.APIKey != "" && !constantEqual(r.Header.Get(crypto.HeaderAPIKey), cfg.APIKey) {
					writeUnauthorized(w, "invalid api key")
					return
				}
				body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
				if err != nil {
					writeUnauthorized(w, "unreadable body")
					return
				}
				r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(body))

				ts := r.Header.Get(crypto.HeaderTimestamp)
				if !signer.Verify(r.Method, r.URL.Path, string(body), ts, sig, time.Now(), skew) {
					writeUnauthorized(w, "invalid signature")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.APIKey == "" {
				writeUnauthorized(w, "signed request required")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if !constantEqual(token, cfg.APIKey) {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get(crypto.HeaderAPIKey); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
