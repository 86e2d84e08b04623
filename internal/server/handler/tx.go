package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// TxPool accepts calls for the next block.
type TxPool interface {
	Submit(call domain.Call) (string, error)
}

// ReceiptSource looks up receipts of recently mined blocks.
type ReceiptSource interface {
	Receipt(txID string) (domain.Receipt, bool)
}

// ReceiptStore is the persisted receipt index.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, txID string) (domain.Receipt, error)
}

// TxHandler serves transaction submission and receipt lookup.
type TxHandler struct {
	pool     TxPool
	recent   ReceiptSource
	receipts ReceiptStore
	logger   *slog.Logger
}

// NewTxHandler creates a TxHandler. receipts may be nil when persistence is
// disabled; lookups then only see the in-memory window.
func NewTxHandler(pool TxPool, recent ReceiptSource, receipts ReceiptStore, logger *slog.Logger) *TxHandler {
	return &TxHandler{
		pool:     pool,
		recent:   recent,
		receipts: receipts,
		logger:   logHandler(logger, "tx"),
	}
}

// SubmitTx queues a call and returns its transaction id.
// POST /api/tx
func (h *TxHandler) SubmitTx(w http.ResponseWriter, r *http.Request) {
	var call domain.Call
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if call.Function == "" {
		writeError(w, http.StatusBadRequest, "function is required")
		return
	}

	id, err := h.pool.Submit(call)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "submit failed",
				slog.String("function", call.Function),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}

	h.logger.DebugContext(r.Context(), "tx queued",
		slog.String("tx_id", id),
		slog.String("function", call.Function),
		slog.String("sender", call.Sender.String()),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"tx_id": id})
}

// GetReceipt returns the receipt of a mined transaction.
// GET /api/tx/{id}
func (h *TxHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	if !strings.HasPrefix(id, "0x") || len(id) != 66 {
		writeError(w, http.StatusBadRequest, "invalid tx id")
		return
	}

	if rc, ok := h.recent.Receipt(id); ok {
		writeJSON(w, http.StatusOK, rc)
		return
	}
	if h.receipts == nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	rc, err := h.receipts.GetReceipt(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load receipt", slog.String("tx_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load receipt")
		return
	}
	writeJSON(w, http.StatusOK, rc)
}
