package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// ChainStatus is the part of the chain the health endpoints read.
type ChainStatus interface {
	Head() domain.Block
	Halted() error
}

// PoolStatus reports the mempool depth.
type PoolStatus interface {
	Len() int
}

// HealthHandler serves the health-check and status endpoints.
type HealthHandler struct {
	chain     ChainStatus
	pool      PoolStatus
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pool may be nil.
func NewHealthHandler(chain ChainStatus, pool PoolStatus, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		chain:     chain,
		pool:      pool,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck responds 200 while the chain is live and 503 once it halted.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.chain.Halted(); err != nil {
		status, code = "halted", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"height":    h.chain.Head().Height,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus reports the node mode, head and mempool depth.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	head := h.chain.Head()
	resp := map[string]any{
		"mode":           h.mode,
		"height":         head.Height,
		"head_hash":      head.Hash,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.pool != nil {
		resp["mempool"] = h.pool.Len()
	}
	if err := h.chain.Halted(); err != nil {
		resp["halted"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
