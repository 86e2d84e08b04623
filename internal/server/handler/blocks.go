package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// BlockReader loads persisted blocks by height.
type BlockReader interface {
	GetBlock(ctx context.Context, height uint64) (domain.Block, error)
}

// Miner mines a block on demand.
type Miner interface {
	Tick(ctx context.Context, force bool) (domain.Block, bool, error)
}

// BlockHandler serves block queries and manual mining.
type BlockHandler struct {
	chain  ChainStatus
	blocks BlockReader
	miner  Miner
	logger *slog.Logger
}

// NewBlockHandler creates a BlockHandler. blocks may be nil, in which case
// only the head header can be served. miner may be nil when manual mining is
// disabled.
func NewBlockHandler(chain ChainStatus, blocks BlockReader, miner Miner, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{
		chain:  chain,
		blocks: blocks,
		miner:  miner,
		logger: logHandler(logger, "blocks"),
	}
}

// LatestBlock returns the chain head.
// GET /api/blocks/latest
func (h *BlockHandler) LatestBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chain.Head())
}

// GetBlock returns the block at {height}.
// GET /api/blocks/{height}
func (h *BlockHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	height, ok := uintParam(r, "height")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid height")
		return
	}

	head := h.chain.Head()
	if height > head.Height {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if h.blocks == nil {
		if height == head.Height {
			writeJSON(w, http.StatusOK, head)
			return
		}
		writeError(w, http.StatusNotFound, "block not found")
		return
	}

	block, err := h.blocks.GetBlock(r.Context(), height)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load block", slog.Uint64("height", height), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load block")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// MineBlock seals a block immediately, even when the mempool is empty.
// POST /api/blocks/mine
func (h *BlockHandler) MineBlock(w http.ResponseWriter, r *http.Request) {
	if h.miner == nil {
		writeError(w, http.StatusForbidden, "manual mining disabled")
		return
	}

	block, mined, err := h.miner.Tick(r.Context(), true)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual mine failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !mined {
		writeError(w, http.StatusConflict, "another node holds the sequencer lock")
		return
	}
	writeJSON(w, http.StatusOK, block)
}
