package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// maxBodyBytes bounds request bodies accepted by write endpoints.
const maxBodyBytes = 64 << 10

// writeJSON writes v with status. A value that cannot be marshaled becomes a
// bare 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps node errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBadSignature), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrDuplicateTx), errors.Is(err, domain.ErrStaleNonce), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMempoolFull), errors.Is(err, domain.ErrChainHalted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseListOpts reads limit and offset from the query string. Malformed
// values fall back to the defaults rather than failing the request.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	return domain.ListOpts{
		Limit:  min(queryInt(q.Get("limit"), defaultPageSize, 1), maxPageSize),
		Offset: queryInt(q.Get("offset"), 0, 0),
	}
}

// queryInt parses v, returning def when v is empty, malformed or below floor.
func queryInt(v string, def, floor int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		return def
	}
	return n
}

// uintParam parses a base-10 path parameter.
func uintParam(r *http.Request, name string) (uint64, bool) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	return n, err == nil
}

// logHandler tags logger with the handler name.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
